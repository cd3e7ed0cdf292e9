package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lakesync/lakesync/internal/deltacodec"
	"github.com/lakesync/lakesync/internal/deltamodel"
	"github.com/lakesync/lakesync/internal/gateway"
	"github.com/lakesync/lakesync/internal/hlc"
	"github.com/lakesync/lakesync/internal/lakeerr"
)

type healthResponse struct {
	Status string `json:"status"`
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

type pushRequestBody struct {
	ClientID    string          `json:"clientId"`
	Deltas      json.RawMessage `json:"deltas"`
	LastSeenHLC *string         `json:"lastSeenHlc,omitempty"`
}

type pushResponseBody struct {
	AcceptedCount int      `json:"acceptedCount"`
	RejectedIDs   []string `json:"rejectedIds"`
	ServerHLC     string   `json:"serverHlc"`
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	gatewayID := chi.URLParam(r, "gatewayId")

	b, err := s.registry.get(gatewayID)
	if err != nil {
		writeError(w, lakeerr.ErrUnauthorized)
		return
	}

	var body pushRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, lakeerr.ErrSchemaMismatch)
		return
	}

	deltas, err := deltacodec.DecodeDeltas(body.Deltas)
	if err != nil {
		writeError(w, lakeerr.ErrSchemaMismatch)
		return
	}

	req := gateway.PushRequest{ClientID: body.ClientID, Deltas: deltas}

	if body.LastSeenHLC != nil {
		v, err := strconv.ParseUint(*body.LastSeenHLC, 10, 64)
		if err != nil {
			writeError(w, lakeerr.ErrSchemaMismatch)
			return
		}

		ts := hlc.Timestamp(v)
		req.LastSeenHLC = &ts
	}

	result, err := b.gw.Push(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	s.broadcastAccepted(b, req, result)

	writeJSON(w, http.StatusOK, pushResponseBody{
		AcceptedCount: result.AcceptedCount,
		RejectedIDs:   result.RejectedIDs,
		ServerHLC:     strconv.FormatUint(uint64(result.ServerHLC), 10),
	})
}

// broadcastAccepted fans the subset of req.Deltas that Push actually
// admitted out to any /watch subscribers, skipping the encode entirely
// when Push admitted none of them.
func (s *Server) broadcastAccepted(b *binding, req gateway.PushRequest, result gateway.PushResult) {
	if len(result.RejectedIDs) == len(req.Deltas) {
		return
	}

	rejected := make(map[string]struct{}, len(result.RejectedIDs))
	for _, id := range result.RejectedIDs {
		rejected[id] = struct{}{}
	}

	accepted := make([]deltamodel.RowDelta, 0, result.AcceptedCount)

	for _, d := range req.Deltas {
		if _, ok := rejected[d.DeltaID]; ok {
			continue
		}

		accepted = append(accepted, d)
	}

	frame := deltacodec.Frame{Kind: deltacodec.FrameBroadcast, Deltas: accepted, Cursor: result.ServerHLC}

	encoded, err := deltacodec.EncodeFrame(frame)
	if err != nil {
		s.logger.Warn("httpapi: encode broadcast frame failed")
		return
	}

	b.bcast.publish(encoded)
}

type pullResponseBody struct {
	Deltas     json.RawMessage `json:"deltas"`
	NextCursor string          `json:"nextCursor"`
	HasMore    bool            `json:"hasMore"`
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	gatewayID := chi.URLParam(r, "gatewayId")

	b, err := s.registry.get(gatewayID)
	if err != nil {
		writeError(w, lakeerr.ErrUnauthorized)
		return
	}

	claims, _ := ClaimsFromContext(r.Context())

	var sinceHLC hlc.Timestamp
	if raw := r.URL.Query().Get("sinceHlc"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, lakeerr.ErrSchemaMismatch)
			return
		}

		sinceHLC = hlc.Timestamp(v)
	}

	maxDeltas := 0
	if raw := r.URL.Query().Get("maxDeltas"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, lakeerr.ErrSchemaMismatch)
			return
		}

		maxDeltas = v
	}

	req := gateway.PullRequest{SinceHLC: sinceHLC, MaxDeltas: maxDeltas}
	if claims != nil {
		req.ClientID = claims.ClientID
	}

	result, err := b.gw.PullFromBuffer(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	deltasJSON, err := deltacodec.EncodeDeltas(result.Deltas)
	if err != nil {
		writeError(w, lakeerr.ErrFlushError)
		return
	}

	writeJSON(w, http.StatusOK, pullResponseBody{
		Deltas:     deltasJSON,
		NextCursor: strconv.FormatUint(uint64(result.NextCursor), 10),
		HasMore:    result.HasMore,
	})
}

type flushResponseBody struct {
	ObjectKey   string `json:"objectKey"`
	RecordCount int    `json:"recordCount"`
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	gatewayID := chi.URLParam(r, "gatewayId")

	b, err := s.registry.get(gatewayID)
	if err != nil {
		writeError(w, lakeerr.ErrUnauthorized)
		return
	}

	result, err := b.gw.Flush(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, flushResponseBody{ObjectKey: result.ObjectKey, RecordCount: result.RecordCount})
}

type columnDefBody struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type tableSchemaBody struct {
	Table   string          `json:"table"`
	Columns []columnDefBody `json:"columns"`
}

func (s *Server) handleAdminSchema(w http.ResponseWriter, r *http.Request) {
	gatewayID := chi.URLParam(r, "gatewayId")

	b, err := s.registry.get(gatewayID)
	if err != nil {
		writeError(w, lakeerr.ErrUnauthorized)
		return
	}

	var body tableSchemaBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, lakeerr.ErrSchemaMismatch)
		return
	}

	columns := make([]deltamodel.ColumnDef, len(body.Columns))
	for i, c := range body.Columns {
		columns[i] = deltamodel.ColumnDef{Name: c.Name, Type: deltamodel.ColumnType(c.Type)}
	}

	b.gw.SetTableSchema(deltamodel.TableSchema{Table: body.Table, Columns: columns})

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, lakeerr.HTTPStatus(err), errorBody{Error: err.Error()})
}
