package rpc

import (
	"math/big"
	"net/http"

	"kestrel/crypto"
	"kestrel/native/vesting"
)

type scheduleView struct {
	Beneficiary string `json:"beneficiary"`
	Total       string `json:"total"`
	Released    string `json:"released"`
	Claimable   string `json:"claimable"`
	Start       uint64 `json:"start"`
	Cliff       uint64 `json:"cliff"`
	Duration    uint64 `json:"duration"`
	End         uint64 `json:"end"`
	Revocable   bool   `json:"revocable"`
	Revoked     bool   `json:"revoked"`
	Role        string `json:"role"`
}

func (s *Server) scheduleView(addr [20]byte, schedule *vesting.Schedule) (scheduleView, error) {
	claimable, err := s.vestingEngine.Claimable(addr)
	if err != nil {
		return scheduleView{}, err
	}
	return scheduleView{
		Beneficiary: crypto.MustNewAddress(addr).String(),
		Total:       schedule.Total.String(),
		Released:    schedule.Released.String(),
		Claimable:   claimable.String(),
		Start:       schedule.Start,
		Cliff:       schedule.Cliff,
		Duration:    schedule.Duration,
		End:         schedule.End(),
		Revocable:   schedule.Revocable,
		Revoked:     schedule.Revoked,
		Role:        schedule.Role.String(),
	}, nil
}

func (s *Server) handleBeneficiaries(w http.ResponseWriter, _ *http.Request) {
	count, err := s.vestingEngine.BeneficiaryCount()
	if err != nil {
		writeError(w, err)
		return
	}
	list := make([]string, 0, count)
	for i := 0; i < count; i++ {
		addr, err := s.vestingEngine.BeneficiaryAt(i)
		if err != nil {
			writeError(w, err)
			return
		}
		list = append(list, crypto.MustNewAddress(addr).String())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":         count,
		"beneficiaries": list,
	})
}

func (s *Server) handleSchedule(w http.ResponseWriter, req *http.Request) {
	addr, err := parseAddressParam(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	schedule, err := s.vestingEngine.ScheduleOf(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := s.scheduleView(addr, schedule)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleRelease(w http.ResponseWriter, req *http.Request) {
	addr, err := parseAddressParam(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if !s.bumpOrdinal(w) {
		return
	}
	amount, err := s.vestingEngine.Release(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.Releases.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"released": amount.String()})
}

type grantRequest struct {
	Beneficiary string `json:"beneficiary"`
	Amount      string `json:"amount"`
	Start       uint64 `json:"start"`
	Cliff       uint64 `json:"cliff"`
	Duration    uint64 `json:"duration"`
	Revocable   bool   `json:"revocable"`
	Role        string `json:"role"`
}

func (s *Server) decodeGrant(w http.ResponseWriter, req *http.Request) (*grantRequest, [20]byte, *big.Int, vesting.Role, bool) {
	var body grantRequest
	if err := decodeBody(req, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return nil, [20]byte{}, nil, vesting.RoleNone, false
	}
	addr, err := parseAddressField(body.Beneficiary, "beneficiary")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return nil, [20]byte{}, nil, vesting.RoleNone, false
	}
	amount, err := parseAmountField(body.Amount, "amount")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return nil, [20]byte{}, nil, vesting.RoleNone, false
	}
	role, err := vesting.ParseRole(body.Role)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return nil, [20]byte{}, nil, vesting.RoleNone, false
	}
	return &body, addr, amount, role, true
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, req *http.Request) {
	body, addr, amount, role, ok := s.decodeGrant(w, req)
	if !ok {
		return
	}
	if !s.bumpOrdinal(w) {
		return
	}
	schedule, err := s.vestingEngine.CreateSchedule(addr, amount, body.Start, body.Cliff, body.Duration, body.Revocable, role)
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := s.scheduleView(addr, schedule)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGrantStream(w http.ResponseWriter, req *http.Request) {
	body, addr, amount, role, ok := s.decodeGrant(w, req)
	if !ok {
		return
	}
	if !s.bumpOrdinal(w) {
		return
	}
	schedule, err := s.vestingEngine.GrantStream(addr, amount, body.Start, body.Cliff, body.Duration, body.Revocable, role)
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := s.scheduleView(addr, schedule)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGrantTranches(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Beneficiary string `json:"beneficiary"`
		PerTranche  string `json:"perTranche"`
		Start       uint64 `json:"start"`
		FirstCliff  uint64 `json:"firstCliff"`
		Interval    uint64 `json:"interval"`
		Count       int    `json:"count"`
		Revocable   bool   `json:"revocable"`
		Role        string `json:"role"`
	}
	if err := decodeBody(req, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	addr, err := parseAddressField(body.Beneficiary, "beneficiary")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	perTranche, err := parseAmountField(body.PerTranche, "perTranche")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	role, err := vesting.ParseRole(body.Role)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if !s.bumpOrdinal(w) {
		return
	}
	schedule, err := s.vestingEngine.GrantTranches(addr, perTranche, body.Start, body.FirstCliff, body.Interval, body.Count, body.Revocable, role)
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := s.scheduleView(addr, schedule)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleIncreaseSchedule(w http.ResponseWriter, req *http.Request) {
	addr, err := parseAddressParam(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	var body struct {
		Amount string `json:"amount"`
	}
	if err := decodeBody(req, &body); err != nil {
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
	schedule, err := s.vestingEngine.IncreaseSchedule(addr, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := s.scheduleView(addr, schedule)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleRevoke(w http.ResponseWriter, req *http.Request) {
	addr, err := parseAddressParam(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if !s.bumpOrdinal(w) {
		return
	}
	if err := s.vestingEngine.Revoke(addr); err != nil {
		writeError(w, err)
		return
	}
	s.metrics.Revokes.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
