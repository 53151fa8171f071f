package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/julienschmidt/httprouter"
	_ "github.com/mattn/go-sqlite3"
)

const (
	logDate string        = `2006-01-02T15:04:05.000-07:00`
	timeout time.Duration = 10 * time.Second
)

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

func securityHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if cfg.scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}
	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

func serveVersion(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusOK)

		written, _ := w.Write([]byte("incognito v" + releaseVersion + "\n"))

		logf(cfg, "SERVE: Version page (%dB) to %s in %s",
			written,
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func serveHealthCheck(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)

		_, _ = w.Write([]byte("Ok\n"))
	}
}

func registerProfileHandlers(cfg *Config, mux *httprouter.Router) {
	mux.Handler("GET", cfg.prefix+"/pprof/allocs", pprof.Handler("allocs"))
	mux.Handler("GET", cfg.prefix+"/pprof/block", pprof.Handler("block"))
	mux.Handler("GET", cfg.prefix+"/pprof/goroutine", pprof.Handler("goroutine"))
	mux.Handler("GET", cfg.prefix+"/pprof/heap", pprof.Handler("heap"))
	mux.Handler("GET", cfg.prefix+"/pprof/mutex", pprof.Handler("mutex"))
	mux.Handler("GET", cfg.prefix+"/pprof/threadcreate", pprof.Handler("threadcreate"))
	mux.HandlerFunc("GET", cfg.prefix+"/pprof/cmdline", pprof.Cmdline)
	mux.HandlerFunc("GET", cfg.prefix+"/pprof/profile", pprof.Profile)
	mux.HandlerFunc("GET", cfg.prefix+"/pprof/symbol", pprof.Symbol)
	mux.HandlerFunc("GET", cfg.prefix+"/pprof/trace", pprof.Trace)
}

func registerGameHandlers(cfg *Config, mux *httprouter.Router) {
	prefix := cfg.prefix

	mux.POST(prefix+"/api/auth/signup", handleSignup())
	mux.POST(prefix+"/api/auth/login", handleLogin())
	mux.POST(prefix+"/api/auth/anonymous", handleAnonymousSignin())
	mux.POST(prefix+"/api/auth/logout", handleLogout())

	mux.POST(prefix+"/api/games/create", handleCreateGame(cfg))
	mux.POST(prefix+"/api/games/join", handleJoinGame(cfg))
	mux.POST(prefix+"/api/games/start", handleStartGame(cfg))
	mux.POST(prefix+"/api/games/start-voting", handleStartVoting(cfg))
	mux.POST(prefix+"/api/games/declare-winner", handleDeclareWinner(cfg))
	mux.POST(prefix+"/api/games/award-clue", handleAwardClue(cfg))
	mux.POST(prefix+"/api/games/remove-participant", handleRemoveParticipant(cfg))
	mux.POST(prefix+"/api/games/delete", handleDeleteGame(cfg))
	mux.GET(prefix+"/api/games/available", handleAvailableGames())
	mux.GET(prefix+"/api/games/current", handleCurrentGame())
	mux.GET(prefix+"/api/games/my-clues", handleMyClues())
	mux.GET(prefix+"/api/games/mini-game-state", handleMiniGameState(cfg))
	mux.POST(prefix+"/api/games/mini-game-state", handleMiniGameState(cfg))
	mux.GET(prefix+"/api/games/qr/:gameid", handleGameQR(cfg))

	mux.POST(prefix+"/api/votes/submit", handleSubmitVote(cfg))
	mux.GET(prefix+"/api/votes/results", handleVoteResults())
	mux.GET(prefix+"/api/votes/progress", handleVoteProgress())

	mux.GET(prefix+"/api/profiles/user/:userid", handleGetProfile())
	mux.POST(prefix+"/api/profiles", handleUpsertProfile(cfg))

	mux.GET(prefix+"/api/stream/game-sync/:gameid", handleGameSyncStream(cfg))
	mux.GET(prefix+"/api/stream/games/current", handleCurrentGameStream(cfg))
	mux.GET(prefix+"/api/stream/games/available", handleAvailableGamesStream(cfg))
	mux.GET(prefix+"/api/stream/votes/progress", handleVoteProgressStream(cfg))
	mux.GET(prefix+"/api/stream/votes/results", handleVoteResultsStream(cfg))

	mux.GET(prefix+"/ws/game-sync/:gameid", handleGameSocket(cfg))
}

func ServeAPI(ctx context.Context, cfg *Config) error {
	var err error

	timeZone := os.Getenv("TZ")
	if timeZone != "" {
		time.Local, err = time.LoadLocation(timeZone)
		if err != nil {
			return err
		}
	}

	logf(cfg, "START: incognito v%s", releaseVersion)

	db, err = sqlx.Connect("sqlite3", cfg.db)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := initDB(); err != nil {
		return err
	}

	mux := httprouter.New()

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           mux,
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
	}

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		logError("panic", fmt.Errorf("%v", i))
		securityHeaders(cfg, w)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Something went wrong"})
	}

	cfg.prefix = strings.TrimSuffix(cfg.prefix, "/")

	mux.GET(cfg.prefix+"/healthz", serveHealthCheck(cfg))
	mux.GET(cfg.prefix+"/version", serveVersion(cfg))

	if cfg.profile {
		registerProfileHandlers(cfg, mux)
	}

	registerGameHandlers(cfg, mux)

	hub.start(cfg)

	go func() {
		var err error
		if cfg.tlsKey != "" && cfg.tlsCert != "" {
			logf(cfg, "SERVE: Listening on %s://%s%s/", cfg.scheme(), srv.Addr, cfg.prefix)
			err = srv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			logf(cfg, "SERVE: Listening on %s://%s%s/", cfg.scheme(), srv.Addr, cfg.prefix)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("%s | ERROR: %v\n", time.Now().Format(logDate), err)
		}
	}()

	<-ctx.Done()
	hub.stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	return nil
}
