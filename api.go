/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"golang.org/x/crypto/bcrypt"

	"github.com/Seednode/newyear/internal/backend"
	"github.com/Seednode/newyear/internal/lottery"
	"github.com/Seednode/newyear/internal/store"
)

const (
	deviceCookieName = "newyear_device"
	adminKeyHeader   = "X-Admin-Key"
	maxBodySize      = 1 << 12
)

func writeJSON(w http.ResponseWriter, status int, data any, errs chan<- error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		errs <- err
	}
}

func writeError(w http.ResponseWriter, status int, message string, errs chan<- error) {
	writeJSON(w, status, map[string]string{"error": message}, errs)
}

func readJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v)
}

// getOrSetDeviceID identifies the browser by cookie, issuing one on first
// visit.
func getOrSetDeviceID(cfg *Config, w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(deviceCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     deviceCookieName,
		Value:    id,
		Path:     cfg.prefix + "/",
		MaxAge:   365 * 24 * 60 * 60,
		HttpOnly: true,
		Secure:   cfg.scheme() == "https",
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

func serveContent(p *party, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		securityHeaders(p.cfg, w)
		writeJSON(w, http.StatusOK, p.content, errs)
	}
}

func serveMessages(p *party, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		securityHeaders(p.cfg, w)
		writeJSON(w, http.StatusOK, p.wall.Pool(), errs)
	}
}

type wishRequest struct {
	Text     string `json:"text"`
	UserName string `json:"user_name"`
}

func postMessage(p *party, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		securityHeaders(p.cfg, w)

		var req wishRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", errs)
			return
		}

		m, err := p.postWish(getOrSetDeviceID(p.cfg, w, r), req.UserName, req.Text)
		switch {
		case errors.Is(err, errEmptyWish), errors.Is(err, errWishTooLong):
			writeError(w, http.StatusBadRequest, err.Error(), errs)
		case errors.Is(err, errTooSoon):
			writeError(w, http.StatusTooManyRequests, err.Error(), errs)
		case err != nil:
			writeError(w, http.StatusServiceUnavailable, err.Error(), errs)
		default:
			writeJSON(w, http.StatusCreated, m, errs)
		}
	}
}

func serveBarrage(p *party, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		securityHeaders(p.cfg, w)
		writeJSON(w, http.StatusOK, p.wall.Snapshot(), errs)
	}
}

func serveLottery(p *party, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		securityHeaders(p.cfg, w)

		st, err := p.lottery.State(r.Context(), getOrSetDeviceID(p.cfg, w, r))
		if err != nil {
			p.log.Warn().Err(err).Msg("lottery state incomplete")
		}

		writeJSON(w, http.StatusOK, st, errs)
	}
}

type registrationRequest struct {
	UserName string `json:"user_name"`
}

func postRegistration(p *party, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		securityHeaders(p.cfg, w)

		var req registrationRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", errs)
			return
		}

		reg, err := p.lottery.Register(r.Context(), req.UserName, getOrSetDeviceID(p.cfg, w, r))
		switch {
		case errors.Is(err, lottery.ErrEmptyName), errors.Is(err, lottery.ErrNameTooLong):
			writeError(w, http.StatusBadRequest, err.Error(), errs)
		case errors.Is(err, lottery.ErrClosed), errors.Is(err, lottery.ErrNameTaken):
			writeError(w, http.StatusConflict, err.Error(), errs)
		case errors.Is(err, backend.ErrNotConfigured):
			writeError(w, http.StatusServiceUnavailable, "sign-up is unavailable offline", errs)
		case err != nil:
			p.log.Error().Err(err).Msg("registration failed")
			writeError(w, http.StatusInternalServerError, "registration failed, please try again", errs)
		case reg.Already:
			writeJSON(w, http.StatusOK, reg, errs)
		default:
			writeJSON(w, http.StatusCreated, reg, errs)
		}
	}
}

// requireAdmin wraps admin handlers with a bcrypt check of the admin key
// header.
func requireAdmin(p *party, hash []byte, errs chan<- error) func(httprouter.Handle) httprouter.Handle {
	return func(next httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			key := r.Header.Get(adminKeyHeader)
			if key == "" || bcrypt.CompareHashAndPassword(hash, []byte(key)) != nil {
				p.log.Warn().Str("remote", realIP(r)).Str("path", r.URL.Path).Msg("rejected admin request")

				securityHeaders(p.cfg, w)
				writeError(w, http.StatusUnauthorized, "invalid admin key", errs)
				return
			}

			next(w, r, ps)
		}
	}
}

func postDraw(p *party, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		securityHeaders(p.cfg, w)

		winners, err := p.lottery.Draw(r.Context())
		switch {
		case errors.Is(err, lottery.ErrNoEntrants), errors.Is(err, lottery.ErrAlreadyDrawn):
			writeError(w, http.StatusConflict, err.Error(), errs)
		case errors.Is(err, backend.ErrNotConfigured):
			writeError(w, http.StatusServiceUnavailable, "the lottery is unavailable offline", errs)
		case err != nil:
			p.log.Error().Err(err).Msg("draw failed")
			writeError(w, http.StatusInternalServerError, "draw failed", errs)
		default:
			writeJSON(w, http.StatusOK, winners, errs)
		}
	}
}

func postReset(p *party, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		securityHeaders(p.cfg, w)

		err := p.lottery.Reset(r.Context())
		switch {
		case errors.Is(err, backend.ErrNotConfigured):
			writeError(w, http.StatusServiceUnavailable, "the lottery is unavailable offline", errs)
		case err != nil:
			p.log.Error().Err(err).Msg("reset failed")
			writeError(w, http.StatusInternalServerError, "reset failed", errs)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

func serveSongs(p *party, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		securityHeaders(p.cfg, w)
		writeJSON(w, http.StatusOK, p.playlist(r.Context()), errs)
	}
}

func songID(ps httprouter.Params) (int64, bool) {
	raw := ps.ByName("id")
	if raw == "" {
		return 0, true
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, false
	}

	return id, true
}

// putSong creates a song, or replaces the one named in the path.
func putSong(p *party, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		securityHeaders(p.cfg, w)

		id, ok := songID(ps)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid song id", errs)
			return
		}

		var s store.Song
		if err := readJSON(r, &s); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", errs)
			return
		}
		s.ID = id
		s.Title = strings.TrimSpace(s.Title)
		s.Artist = strings.TrimSpace(s.Artist)
		s.AudioURL = strings.TrimSpace(s.AudioURL)

		if s.Title == "" || s.AudioURL == "" {
			writeError(w, http.StatusBadRequest, "title and audio_url are required", errs)
			return
		}

		saved, err := p.backend.SaveSong(r.Context(), s)
		switch {
		case errors.Is(err, backend.ErrNotConfigured):
			writeError(w, http.StatusServiceUnavailable, "the playlist is read-only offline", errs)
		case err != nil:
			p.log.Error().Err(err).Msg("saving song failed")
			writeError(w, http.StatusInternalServerError, "saving song failed", errs)
		case id == 0:
			writeJSON(w, http.StatusCreated, saved, errs)
		default:
			writeJSON(w, http.StatusOK, saved, errs)
		}
	}
}

func deleteSong(p *party, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		securityHeaders(p.cfg, w)

		id, ok := songID(ps)
		if !ok || id == 0 {
			writeError(w, http.StatusBadRequest, "invalid song id", errs)
			return
		}

		err := p.backend.DeleteSong(r.Context(), id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "no such song", errs)
		case errors.Is(err, backend.ErrNotConfigured):
			writeError(w, http.StatusServiceUnavailable, "the playlist is read-only offline", errs)
		case err != nil:
			p.log.Error().Err(err).Msg("deleting song failed")
			writeError(w, http.StatusInternalServerError, "deleting song failed", errs)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

// serveWS upgrades to a websocket that receives every bubble, lottery and
// playlist event and may send wishes.
func serveWS(p *party) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		deviceID := uuid.NewString()
		if c, err := r.Cookie(deviceCookieName); err == nil && c.Value != "" {
			deviceID = c.Value
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			p.log.Debug().Err(err).Msg("upgrade failed")
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, sendBuffer),
			deviceID: deviceID,
		}

		if !p.hub.add(client) {
			_ = conn.Close()
			return
		}

		go client.writePump()

		p.sendSnapshot(client)

		client.readPump(p.hub, p.handleClientMessage)
	}
}
