package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avatara/tutor/internal/protocol"
	"github.com/avatara/tutor/internal/session"
)

// turnprobe replays synthetic typed turns against a running tutor server and
// reports accept-to-first-speak and turn-total latencies from the client side.

type options struct {
	baseURL        string
	studentID      string
	turns          int
	playbackMSChar int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	fetchPerf      bool
	verbose        bool
}

type turnSample struct {
	firstSpeakMS float64
	totalMS      float64
	units        int
}

var defaultUtterances = []string{
	"What is two plus two?",
	"Why is the sky blue?",
	"Tell me a fact about whales.",
	"How do plants make food?",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "turnprobe: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "turnprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "tutor server base URL")
	flag.StringVar(&cfg.studentID, "student-id", "probe", "student_id used for the synthetic session")
	flag.IntVar(&cfg.turns, "turns", 10, "number of turns to replay")
	flag.IntVar(&cfg.playbackMSChar, "playback-ms-per-char", 0, "simulated avatar playback pacing per character (0 acks immediately)")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 150, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 20000, "timeout waiting for turn_end per turn in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	flag.BoolVar(&cfg.fetchPerf, "fetch-perf", true, "fetch /v1/perf/latency after the replay")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.playbackMSChar < 0 {
		return options{}, fmt.Errorf("playback-ms-per-char must be >= 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	cfg.texts = splitTexts(textsRaw)
	if len(cfg.texts) == 0 {
		cfg.texts = append([]string(nil), defaultUtterances...)
	}
	return cfg, nil
}

// splitTexts parses the '|'-separated utterance list, dropping blanks.
func splitTexts(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 45 * time.Second}
	sessionID, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, cfg.baseURL, sessionID)
	}()

	if cfg.verbose {
		fmt.Printf("turnprobe: session=%s turns=%d playback_ms_per_char=%d\n", sessionID, cfg.turns, cfg.playbackMSChar)
	}

	wsURL, err := wsURLForSession(cfg.baseURL, sessionID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	var samples []turnSample
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		if cfg.verbose {
			fmt.Printf("turnprobe: turn %d/%d text=%q\n", i+1, cfg.turns, text)
		}
		sample, err := runTurn(conn, sessionID, text, cfg)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		samples = append(samples, sample)
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	printSummary(samples)

	if cfg.fetchPerf {
		if err := printServerPerf(ctx, httpClient, cfg.baseURL); err != nil {
			fmt.Fprintf(os.Stderr, "turnprobe: perf fetch failed: %v\n", err)
		}
	}
	return nil
}

// runTurn drives one full turn: submit, ack every speak request, wait for
// turn_end. The server dispatches speak requests one at a time, gated on our
// acks, so a single read loop suffices.
func runTurn(conn *websocket.Conn, sessionID, text string, cfg options) (turnSample, error) {
	start := time.Now()
	err := conn.WriteJSON(protocol.TypedInput{
		Type:      protocol.TypeTypedInput,
		SessionID: sessionID,
		Text:      text,
		TSMs:      start.UnixMilli(),
	})
	if err != nil {
		return turnSample{}, err
	}

	var sample turnSample
	firstSpeakSeen := false
	deadline := time.Now().Add(cfg.turnTimeout)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return turnSample{}, err
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return turnSample{}, fmt.Errorf("read: %w", err)
		}

		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		switch env.Type {
		case protocol.TypeTurnRejected:
			var rej protocol.TurnRejected
			_ = json.Unmarshal(raw, &rej)
			return turnSample{}, fmt.Errorf("turn rejected: %s", rej.Reason)
		case protocol.TypeSpeakRequest:
			var speak protocol.SpeakRequest
			if err := json.Unmarshal(raw, &speak); err != nil {
				continue
			}
			if !firstSpeakSeen {
				firstSpeakSeen = true
				sample.firstSpeakMS = float64(time.Since(start).Milliseconds())
			}
			sample.units++
			if cfg.playbackMSChar > 0 {
				time.Sleep(time.Duration(len(speak.Text)*cfg.playbackMSChar) * time.Millisecond)
			}
			ack := protocol.PlaybackComplete{
				Type:      protocol.TypePlaybackComplete,
				SessionID: sessionID,
				TurnID:    speak.TurnID,
				Seq:       speak.Seq,
			}
			if err := conn.WriteJSON(ack); err != nil {
				return turnSample{}, err
			}
		case protocol.TypeTurnEnd:
			var end protocol.TurnEnd
			_ = json.Unmarshal(raw, &end)
			if end.Status != "complete" {
				return turnSample{}, fmt.Errorf("turn ended with status %q", end.Status)
			}
			sample.totalMS = float64(time.Since(start).Milliseconds())
			return sample, nil
		case protocol.TypeErrorEvent:
			var ev protocol.ErrorEvent
			_ = json.Unmarshal(raw, &ev)
			return turnSample{}, fmt.Errorf("server error %s: %s", ev.Code, ev.Detail)
		}
	}
}

type stats struct {
	count int
	min   float64
	avg   float64
	p50   float64
	p95   float64
	max   float64
}

// summarize computes order statistics over one latency series.
func summarize(samples []float64) stats {
	if len(samples) == 0 {
		return stats{}
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return stats{
		count: len(sorted),
		min:   sorted[0],
		avg:   sum / float64(len(sorted)),
		p50:   quantile(sorted, 0.50),
		p95:   quantile(sorted, 0.95),
		max:   sorted[len(sorted)-1],
	}
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func printSummary(samples []turnSample) {
	firstSpeak := make([]float64, 0, len(samples))
	totals := make([]float64, 0, len(samples))
	units := 0
	for _, s := range samples {
		if s.firstSpeakMS > 0 {
			firstSpeak = append(firstSpeak, s.firstSpeakMS)
		}
		totals = append(totals, s.totalMS)
		units += s.units
	}

	fmt.Printf("turnprobe: %d turns, %d speak units\n", len(samples), units)
	printStats("submit_to_first_speak_ms", summarize(firstSpeak))
	printStats("turn_total_ms", summarize(totals))
}

func printStats(name string, s stats) {
	if s.count == 0 {
		fmt.Printf("  %-26s no samples\n", name)
		return
	}
	fmt.Printf("  %-26s n=%d min=%.0f avg=%.0f p50=%.0f p95=%.0f max=%.0f\n",
		name, s.count, s.min, s.avg, s.p50, s.p95, s.max)
}

func createSession(ctx context.Context, client *http.Client, cfg options) (string, error) {
	payload, err := json.Marshal(session.CreateRequest{StudentID: cfg.studentID})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/session", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out session.CreateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/session/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/session/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func printServerPerf(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		return err
	}
	fmt.Printf("turnprobe: server perf snapshot\n%s\n", pretty.String())
	return nil
}
