package rpc

import (
	"encoding/hex"
	"net/http"
)

func (s *Server) handleContribute(w http.ResponseWriter, req *http.Request) {
	if s.saleEngine == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no sale configured"})
		return
	}
	var body struct {
		Buyer  string `json:"buyer"`
		Amount string `json:"amount"`
	}
	if err := decodeBody(req, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	buyer, err := parseAddressField(body.Buyer, "buyer")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	amount, err := parseAmountField(body.Amount, "amount")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if !s.bumpOrdinal(w) {
		return
	}
	receipt, err := s.saleEngine.Contribute(buyer, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"receipt": hex.EncodeToString(receipt[:]),
	})
}

func (s *Server) handleClaim(w http.ResponseWriter, req *http.Request) {
	if s.saleEngine == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no sale configured"})
		return
	}
	var body struct {
		Buyer string `json:"buyer"`
	}
	if err := decodeBody(req, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	buyer, err := parseAddressField(body.Buyer, "buyer")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if !s.bumpOrdinal(w) {
		return
	}
	tokens, refund, err := s.saleEngine.Claim(buyer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"tokens": tokens.String(),
		"refund": refund.String(),
	})
}

func (s *Server) handleFinalizeSale(w http.ResponseWriter, _ *http.Request) {
	if s.saleEngine == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no sale configured"})
		return
	}
	if !s.bumpOrdinal(w) {
		return
	}
	if err := s.saleEngine.Finalize(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "finalized"})
}
