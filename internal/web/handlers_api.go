package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/wakky-alcedo/auto-curtain/internal/binding"
	"github.com/wakky-alcedo/auto-curtain/internal/datamodel"
	"github.com/wakky-alcedo/auto-curtain/internal/node"
)

func (s *Server) handleAPINodeInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.dev.Node().Info())
}

func (s *Server) handleAPIGetEndpoint(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 16)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid endpoint id"})
		return
	}
	ep, err := s.dev.Node().Endpoint(datamodel.EndpointID(id))
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "endpoint not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, ep)
}

type attributeAddressRequest struct {
	Endpoint  uint16 `json:"endpoint"`
	Cluster   uint32 `json:"cluster"`
	Attribute uint32 `json:"attribute"`
}

func (r attributeAddressRequest) address() datamodel.Address {
	return datamodel.Address{
		Endpoint:  datamodel.EndpointID(r.Endpoint),
		Cluster:   datamodel.ClusterID(r.Cluster),
		Attribute: datamodel.AttributeID(r.Attribute),
	}
}

func (s *Server) handleAPIReadAttribute(w http.ResponseWriter, r *http.Request) {
	var req attributeAddressRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	addr := req.address()
	value, err := s.dev.Node().ReadAttribute(addr)
	if err != nil {
		if errors.Is(err, node.ErrNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "attribute not found"})
			return
		}
		s.logger.Error("read attribute", "err", err, "address", addr)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	clusterName, attrName := s.dev.Names().AttributeName(addr.Cluster, addr.Attribute)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":   addr.String(),
		"cluster":   clusterName,
		"attribute": attrName,
		"value":     value,
	})
}

type writeAttributeRequest struct {
	attributeAddressRequest
	Value interface{} `json:"value"`
}

func (s *Server) handleAPIWriteAttribute(w http.ResponseWriter, r *http.Request) {
	var req writeAttributeRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	addr := req.address()
	def, err := s.dev.Node().AttributeDef(addr)
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "attribute not found"})
		return
	}
	if !def.IsWritable() {
		s.writeJSON(w, http.StatusForbidden, map[string]string{"error": "attribute is read-only"})
		return
	}

	if err := s.dev.Node().WriteAttribute(addr, req.Value); err != nil {
		switch {
		case errors.Is(err, node.ErrInvalidValue):
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, node.ErrRejected):
			s.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		case errors.Is(err, node.ErrNotFound):
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "attribute not found"})
		default:
			s.logger.Error("write attribute", "err", err, "address", addr)
			s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "address": addr.String()})
}

func (s *Server) handleAPIListBindings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.dev.Bindings().Bindings(time.Now()))
}

func (s *Server) handleAPIToggleBinding(w http.ResponseWriter, r *http.Request) {
	var req attributeAddressRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	addr := req.address()
	b := s.dev.Bindings().Get(addr)
	if b == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no binding for address"})
		return
	}

	// Same debounced read-modify-write path a physical press takes.
	b.Trigger(time.Now())

	now := time.Now()
	s.writeJSON(w, http.StatusOK, binding.Status{
		Address:    b.Address(),
		Kind:       b.Kind().String(),
		State:      b.State(now).String(),
		LastToggle: b.LastToggle(),
		DebounceMs: b.Debounce().Milliseconds(),
	})
}

func (s *Server) handleAPIOnboarding(w http.ResponseWriter, r *http.Request) {
	p := s.onboarding
	if p.Passcode == 0 {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "onboarding not configured"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"manual_pairing_code": p.ManualPairingCode(),
		"qr_payload":          p.QRCodePayload(),
		"vendor_id":           p.VendorID,
		"product_id":          p.ProductID,
		"discriminator":       p.Discriminator,
	})
}

func (s *Server) handleAPIFactoryReset(w http.ResponseWriter, r *http.Request) {
	if err := s.dev.FactoryReset(); err != nil {
		s.logger.Error("factory reset", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
