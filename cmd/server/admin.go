package main

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"transity.ai/internal/persistence/indexdb"
	"transity.ai/internal/protocol"
	"transity.ai/internal/sim/world"
	"transity.ai/internal/sim/world/settlement"
	"transity.ai/internal/sim/world/terrain/gen"
)

// historyIndex is the queryable subset of the SQLite index.
type historyIndex interface {
	WorldRuns(ctx context.Context, limit int) ([]indexdb.WorldRunRow, error)
	Settlements(ctx context.Context, worldID string) ([]indexdb.SettlementRow, error)
	PlacementFailures(ctx context.Context, worldID string) (map[string]int, error)
}

type adminAPI struct {
	world   *world.World
	log     *log.Logger
	limiter *rate.Limiter
	history historyIndex
}

func newAdminAPI(w *world.World, logger *log.Logger, perSecond float64, burst int, history historyIndex) *adminAPI {
	lim := rate.NewLimiter(rate.Inf, 0)
	if perSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return &adminAPI{world: w, log: logger, limiter: lim, history: history}
}

func (a *adminAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/v1/state", a.localOnly(a.handleState))
	mux.HandleFunc("/admin/v1/settlements", a.localOnly(a.handleSettlements))
	mux.HandleFunc("/admin/v1/overlay", a.localOnly(a.handleOverlay))
	mux.HandleFunc("/admin/v1/regenerate", a.localOnly(a.handleRegenerate))
	if a.history != nil {
		mux.HandleFunc("/admin/v1/history", a.localOnly(a.handleHistory))
	}
}

func (a *adminAPI) localOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			writeError(rw, http.StatusForbidden, protocol.ErrNoPermission, "forbidden")
			return
		}
		h(rw, r)
	}
}

func (a *adminAPI) handleState(rw http.ResponseWriter, r *http.Request) {
	snap := a.world.Snapshot()
	writeJSON(rw, http.StatusOK, struct {
		WorldID string             `json:"world_id"`
		Tick    uint64             `json:"tick"`
		Params  gen.Params         `json:"params"`
		Metrics world.WorldMetrics `json:"metrics"`
	}{
		WorldID: snap.WorldID,
		Tick:    a.world.CurrentTick(),
		Params:  snap.Params,
		Metrics: a.world.Metrics(),
	})
}

func (a *adminAPI) handleSettlements(rw http.ResponseWriter, r *http.Request) {
	snap := a.world.Snapshot()
	writeJSON(rw, http.StatusOK, struct {
		WorldID     string                  `json:"world_id"`
		Generation  uint64                  `json:"generation"`
		Settlements []settlement.Settlement `json:"settlements"`
	}{
		WorldID:     snap.WorldID,
		Generation:  snap.Generation,
		Settlements: snap.Settlements,
	})
}

func (a *adminAPI) handleOverlay(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	kind := strings.TrimSpace(r.URL.Query().Get("kind"))
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	res, err := a.world.RequestOverlay(ctx, kind)
	switch {
	case errors.Is(err, settlement.ErrUnknownOverlay):
		writeError(rw, http.StatusBadRequest, protocol.ErrUnknownOverlay, err.Error())
		return
	case errors.Is(err, settlement.ErrOverlayTooLarge):
		writeError(rw, http.StatusRequestEntityTooLarge, protocol.ErrOverlayTooLarge, err.Error())
		return
	case errors.Is(err, world.ErrPlacementPending):
		writeError(rw, http.StatusServiceUnavailable, protocol.ErrPlacementPending, err.Error())
		return
	case errors.Is(err, world.ErrWorldBusy):
		writeError(rw, http.StatusServiceUnavailable, protocol.ErrWorldBusy, err.Error())
		return
	case err != nil:
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}
	raw := make([]byte, 4*len(res.Values))
	for i, v := range res.Values {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	writeJSON(rw, http.StatusOK, struct {
		Kind       string `json:"kind"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		Generation uint64 `json:"generation"`
		Encoding   string `json:"encoding"`
		Data       string `json:"data"`
	}{
		Kind:       res.Kind,
		Width:      res.Width,
		Height:     res.Height,
		Generation: res.Generation,
		Encoding:   "F32LE_B64",
		Data:       base64.StdEncoding.EncodeToString(raw),
	})
}

func (a *adminAPI) handleRegenerate(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !a.limiter.Allow() {
		writeError(rw, http.StatusTooManyRequests, protocol.ErrRateLimit, "regenerate rate limited")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, err.Error())
		return
	}
	p, err := protocol.DecodeWorldGenParams(body)
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	res, err := a.world.RequestRegenerate(ctx, p)
	if err != nil {
		if errors.Is(err, world.ErrWorldBusy) || errors.Is(err, context.DeadlineExceeded) {
			writeError(rw, http.StatusServiceUnavailable, protocol.ErrWorldBusy, err.Error())
			return
		}
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}
	if a.log != nil {
		a.log.Printf("admin regenerate from %s: mode=%s epoch=%d", r.RemoteAddr, res.Mode, res.Epoch)
	}
	writeJSON(rw, http.StatusAccepted, protocol.RegenerateResponse{
		ProtocolVersion: protocol.Version,
		Mode:            res.Mode,
		Epoch:           res.Epoch,
	})
}

// handleHistory reads placements recorded by the index. world_id defaults to
// the current world.
func (a *adminAPI) handleHistory(rw http.ResponseWriter, r *http.Request) {
	worldID := strings.TrimSpace(r.URL.Query().Get("world_id"))
	if worldID == "" {
		worldID = a.world.Snapshot().WorldID
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	runs, err := a.history.WorldRuns(ctx, 50)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}
	rows, err := a.history.Settlements(ctx, worldID)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}
	fails, err := a.history.PlacementFailures(ctx, worldID)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, struct {
		WorldID     string                  `json:"world_id"`
		Runs        []indexdb.WorldRunRow   `json:"runs"`
		Settlements []indexdb.SettlementRow `json:"settlements"`
		Failures    map[string]int          `json:"failures"`
	}{WorldID: worldID, Runs: runs, Settlements: rows, Failures: fails})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, code, msg string) {
	writeJSON(rw, status, protocol.ErrorResponse{Code: code, Message: msg})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
