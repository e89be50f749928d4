package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// relayToken is the ICE credential set returned by the speech relay service.
// Field names follow the upstream response.
type relayToken struct {
	Urls     []string `json:"Urls"`
	Username string   `json:"Username"`
	Password string   `json:"Password"`
}

type avatarTokenResponse struct {
	Region    string     `json:"region"`
	Character string     `json:"character"`
	Style     string     `json:"style"`
	Relay     relayToken `json:"relay"`
}

// handleAvatarToken proxies the avatar relay token so the browser never sees
// the speech subscription key.
func (s *Server) handleAvatarToken(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.SpeechConfigured() {
		respondError(w, http.StatusNotImplemented, "speech_not_configured", "avatar speech is not configured on this server")
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, s.cfg.SpeechRelayTokenURL(), nil)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "token_request_failed", err.Error())
		return
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", s.cfg.AzureSpeechAPIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		respondError(w, http.StatusBadGateway, "token_request_failed", err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		respondError(w, http.StatusBadGateway, "token_request_failed",
			fmt.Sprintf("relay token service returned %d: %s", resp.StatusCode, string(body)))
		return
	}

	var token relayToken
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		respondError(w, http.StatusBadGateway, "token_decode_failed", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, avatarTokenResponse{
		Region:    s.cfg.AzureSpeechRegion,
		Character: s.cfg.AvatarCharacter,
		Style:     s.cfg.AvatarStyle,
		Relay:     token,
	})
}
