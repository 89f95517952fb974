package rpc

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"kestrel/crypto"
	"kestrel/native/token"
)

func parseAddressParam(req *http.Request) ([20]byte, error) {
	encoded := strings.TrimSpace(chi.URLParam(req, "address"))
	addr, err := crypto.DecodeAddress(encoded)
	if err != nil {
		return [20]byte{}, fmt.Errorf("rpc: invalid address %q: %w", encoded, err)
	}
	return addr.Array(), nil
}

func parseAddressField(value, field string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, fmt.Errorf("rpc: invalid %s: %w", field, err)
	}
	return addr.Array(), nil
}

func parseAmountField(value, field string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("rpc: invalid %s %q", field, value)
	}
	return amount, nil
}

func (s *Server) handleBalance(w http.ResponseWriter, req *http.Request) {
	addr, err := parseAddressParam(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	account, err := s.manager.GetAccount(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": crypto.MustNewAddress(addr).String(),
		"balance": account.Balance.String(),
		"nonce":   account.Nonce,
	})
}

func (s *Server) handleGuardConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := s.tokenEngine.Config()
	view := map[string]any{
		"paused":             cfg.Paused,
		"tradingEnabled":     cfg.TradingEnabled,
		"enabledAtTime":      cfg.EnabledAtTime,
		"enabledAtOrdinal":   cfg.EnabledAtOrdinal,
		"maxTxBps":           cfg.MaxTxBps,
		"maxWalletBps":       cfg.MaxWalletBps,
		"cooldownSeconds":    cfg.CooldownSeconds,
		"sniperWindowLength": cfg.SniperWindowLength,
		"buyFeeBps":          cfg.BuyFeeBps,
		"sellFeeBps":         cfg.SellFeeBps,
		"kycEnabled":         cfg.KYCEnabled,
		"guardsSunsetAt":     cfg.GuardsSunsetAt,
		"lockedCategories":   cfg.Locks().LockedCategories(),
		"totalSupply":        s.tokenEngine.TotalSupply().String(),
	}
	if maxTx := s.tokenEngine.MaxTxAmount(); maxTx != nil {
		view["maxTxAmount"] = maxTx.String()
	}
	if maxWallet := s.tokenEngine.MaxWalletAmount(); maxWallet != nil {
		view["maxWalletAmount"] = maxWallet.String()
	}
	writeJSON(w, http.StatusOK, view)
}

// handleTransfer moves funds on behalf of the holder. The request carries the
// account's current nonce and a recoverable signature over the canonical
// transfer digest; the nonce is consumed even when the guard pipeline rejects
// the transfer, so a retry signs the next one.
func (s *Server) handleTransfer(w http.ResponseWriter, req *http.Request) {
	var body struct {
		From      string `json:"from"`
		To        string `json:"to"`
		Amount    string `json:"amount"`
		Nonce     uint64 `json:"nonce"`
		Signature string `json:"signature"`
	}
	if err := decodeBody(req, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	from, err := parseAddressField(body.From, "from")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	to, err := parseAddressField(body.To, "to")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	amount, err := parseAmountField(body.Amount, "amount")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(body.Signature), "0x"))
	if err != nil || len(sig) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "rpc: invalid signature encoding"})
		return
	}
	account, err := s.manager.GetAccount(from)
	if err != nil {
		writeError(w, err)
		return
	}
	if body.Nonce != account.Nonce {
		writeJSON(w, http.StatusConflict, errorBody{
			Error: fmt.Sprintf("rpc: stale nonce %d, expected %d", body.Nonce, account.Nonce),
		})
		return
	}
	signer, err := crypto.RecoverAddress(crypto.TransferDigest(from, to, amount, body.Nonce), sig)
	if err != nil || signer.Array() != from {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "rpc: signature does not match sender"})
		return
	}
	account.Nonce++
	if err := s.manager.PutAccount(from, account); err != nil {
		writeError(w, err)
		return
	}
	if !s.bumpOrdinal(w) {
		return
	}
	net, fee, err := s.tokenEngine.AttemptTransfer(from, to, amount)
	if err != nil {
		s.metrics.Transfers.WithLabelValues("rejected").Inc()
		writeError(w, err)
		return
	}
	s.metrics.Transfers.WithLabelValues("committed").Inc()
	writeJSON(w, http.StatusOK, map[string]string{
		"net": net.String(),
		"fee": fee.String(),
	})
}

func (s *Server) handleEnableTrading(w http.ResponseWriter, _ *http.Request) {
	if !s.bumpOrdinal(w) {
		return
	}
	if err := s.tokenEngine.EnableTrading(); err != nil {
		writeError(w, err)
		return
	}
	cfg := s.tokenEngine.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"enabledAtTime":    cfg.EnabledAtTime,
		"enabledAtOrdinal": cfg.EnabledAtOrdinal,
	})
}

func (s *Server) handleSetFees(w http.ResponseWriter, req *http.Request) {
	var body struct {
		BuyBps  uint32 `json:"buyBps"`
		SellBps uint32 `json:"sellBps"`
	}
	if err := decodeBody(req, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.tokenEngine.Mutate(func(cfg *token.Config) error {
		return cfg.SetFees(body.BuyBps, body.SellBps)
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSetFeeSink(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Address string `json:"address"`
	}
	if err := decodeBody(req, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	sink, err := parseAddressField(body.Address, "address")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.tokenEngine.Mutate(func(cfg *token.Config) error {
		return cfg.SetFeeSink(sink)
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSetLimits(w http.ResponseWriter, req *http.Request) {
	var body struct {
		MaxTxBps           *uint32 `json:"maxTxBps"`
		MaxWalletBps       *uint32 `json:"maxWalletBps"`
		CooldownSeconds    *uint64 `json:"cooldownSeconds"`
		SniperWindowLength *uint64 `json:"sniperWindowLength"`
	}
	if err := decodeBody(req, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.tokenEngine.Mutate(func(cfg *token.Config) error {
		if body.MaxTxBps != nil {
			if err := cfg.SetMaxTxBps(*body.MaxTxBps); err != nil {
				return err
			}
		}
		if body.MaxWalletBps != nil {
			if err := cfg.SetMaxWalletBps(*body.MaxWalletBps); err != nil {
				return err
			}
		}
		if body.CooldownSeconds != nil {
			if err := cfg.SetCooldownSeconds(*body.CooldownSeconds); err != nil {
				return err
			}
		}
		if body.SniperWindowLength != nil {
			if err := cfg.SetSniperWindowLength(*body.SniperWindowLength); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSetSunset(w http.ResponseWriter, req *http.Request) {
	var body struct {
		At int64 `json:"at"`
	}
	if err := decodeBody(req, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.tokenEngine.SetGuardsSunsetAt(body.At); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSetPause(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Paused bool `json:"paused"`
	}
	if err := decodeBody(req, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.tokenEngine.Mutate(func(cfg *token.Config) error {
		cfg.SetPaused(body.Paused)
		return nil
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSetKYC(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeBody(req, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.tokenEngine.Mutate(func(cfg *token.Config) error {
		return cfg.SetKYCEnabled(body.Enabled)
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSetMembership(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Set     string `json:"set"`
		Address string `json:"address"`
		Member  bool   `json:"member"`
	}
	if err := decodeBody(req, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	addr, err := parseAddressField(body.Address, "address")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.tokenEngine.Mutate(func(cfg *token.Config) error {
		switch body.Set {
		case "fee_excluded":
			return cfg.SetFeeExcluded(addr, body.Member)
		case "limits_excluded":
			return cfg.SetLimitsExcluded(addr, body.Member)
		case "liquidity_pairs":
			return cfg.SetLiquidityPair(addr, body.Member)
		case "blacklisted":
			return cfg.SetBlacklisted(addr, body.Member)
		case "kyc_exempt":
			return cfg.SetKYCExempt(addr, body.Member)
		default:
			return fmt.Errorf("rpc: unknown membership set %q", body.Set)
		}
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLockCategory(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Category string `json:"category"`
	}
	if err := decodeBody(req, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	category, err := token.ParseLockCategory(body.Category)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.tokenEngine.LockCategory(category); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleApproval(w http.ResponseWriter, req *http.Request) {
	addr, err := parseAddressParam(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	approval, ok, err := s.approvals.Lookup(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":   crypto.MustNewAddress(addr).String(),
		"known":     ok,
		"approved":  approval.Approved,
		"reference": approval.Reference,
	})
}

func (s *Server) handleSetApproval(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Address   string `json:"address"`
		Approved  bool   `json:"approved"`
		Reference string `json:"reference"`
	}
	if err := decodeBody(req, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	addr, err := parseAddressField(body.Address, "address")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.approvals.SetApproval(addr, body.Approved, body.Reference); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
