package main

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// handleGameQR generates a PNG QR code encoding the join URL for a game so
// players nearby can scan their way in.
func handleGameQR(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if gameID == "" {
			writeError(w, "handleGameQR", invalidInput("Game ID required"))
			return
		}

		if _, err := getGame(gameID); isNoRows(err) {
			writeError(w, "handleGameQR", notFound("Game not found"))
			return
		} else if err != nil {
			writeError(w, "handleGameQR: getGame", err)
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		url := scheme + "://" + r.Host + cfg.prefix + "/join/" + gameID

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			writeError(w, "handleGameQR: encode", err)
			return
		}

		logf(cfg, "SERVE: QR code for %s to %s", gameID, realIP(r))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}
