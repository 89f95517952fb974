package state

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/holiman/uint256"

	"kestrel/core/types"
	"kestrel/native/registry"
	"kestrel/native/sale"
	"kestrel/native/token"
	"kestrel/native/vesting"
	"kestrel/storage"
)

// Key prefixes. Every record is JSON under a prefixed key so the backing
// store stays inspectable.
const (
	keyGenesis      = "meta:genesis"
	keySupply       = "meta:supply"
	keyOrdinal      = "meta:ordinal"
	keyGuardConfig  = "guard:config"
	keyVestRegistry = "vest:registry"
	keySaleState    = "sale:state"
	prefixAccount   = "acct:"
	prefixSchedule  = "vest:sched:"
	prefixApproval  = "registry:approval:"
)

var (
	// ErrGenesisSealed is returned when genesis initialisation is attempted
	// twice.
	ErrGenesisSealed = errors.New("state: genesis already initialised")
	// ErrNoGenesis is returned by reads that require an initialised ledger.
	ErrNoGenesis = errors.New("state: genesis not initialised")
)

// Manager is the single ledger state authority. The host serialises every
// mutating operation; the mutex enforces that serialisation at the process
// boundary rather than providing true parallelism.
type Manager struct {
	mu sync.Mutex
	db storage.Database
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func accountKey(addr [20]byte) []byte {
	return []byte(prefixAccount + hex.EncodeToString(addr[:]))
}

func scheduleKey(addr [20]byte) []byte {
	return []byte(prefixSchedule + hex.EncodeToString(addr[:]))
}

func approvalKey(addr [20]byte) []byte {
	return []byte(prefixApproval + hex.EncodeToString(addr[:]))
}

func (m *Manager) getJSON(key []byte, out any) (bool, error) {
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", key, err)
	}
	return true, nil
}

func (m *Manager) putJSON(key []byte, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	return m.db.Put(key, raw)
}

// --- Genesis & supply ---

// InitGenesis mints the fixed supply to the treasury exactly once. The
// supply must fit in 256 bits; anything larger is a configuration error.
func (m *Manager) InitGenesis(treasury [20]byte, supply *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sealed, err := m.db.Has([]byte(keyGenesis))
	if err != nil {
		return err
	}
	if sealed {
		return ErrGenesisSealed
	}
	if supply == nil || supply.Sign() <= 0 {
		return fmt.Errorf("state: genesis supply must be positive")
	}
	bounded, overflow := uint256.FromBig(supply)
	if overflow {
		return fmt.Errorf("state: genesis supply exceeds 256 bits")
	}
	account := &types.Account{Balance: bounded.ToBig()}
	if err := m.putJSON(accountKey(treasury), account); err != nil {
		return err
	}
	if err := m.db.Put([]byte(keySupply), []byte(supply.String())); err != nil {
		return err
	}
	return m.db.Put([]byte(keyGenesis), []byte("1"))
}

// TotalSupply returns the fixed mint amount.
func (m *Manager) TotalSupply() (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := m.db.Get([]byte(keySupply))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoGenesis
	}
	if err != nil {
		return nil, err
	}
	supply, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("state: corrupt supply record %q", raw)
	}
	return supply, nil
}

// --- Ordinal counter ---

// Ordinal returns the current block-ordering counter.
func (m *Manager) Ordinal() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readOrdinal()
}

// BumpOrdinal advances the counter by one and returns the new value. The
// host calls it once per state-mutating operation.
func (m *Manager) BumpOrdinal() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.readOrdinal() + 1
	if err := m.db.Put([]byte(keyOrdinal), []byte(fmt.Sprintf("%d", next))); err != nil {
		return 0, err
	}
	return next, nil
}

func (m *Manager) readOrdinal() uint64 {
	raw, err := m.db.Get([]byte(keyOrdinal))
	if err != nil {
		return 0
	}
	var ord uint64
	if _, err := fmt.Sscanf(string(raw), "%d", &ord); err != nil {
		return 0
	}
	return ord
}

// --- Accounts ---

// GetAccount returns the stored account, or a zero-balance account when the
// address has never been touched.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account := &types.Account{Balance: big.NewInt(0)}
	if _, err := m.getJSON(accountKey(addr), account); err != nil {
		return nil, err
	}
	if account.Balance == nil {
		account.Balance = big.NewInt(0)
	}
	return account, nil
}

// PutAccount persists the account record.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	if account.Balance == nil || account.Balance.Sign() < 0 {
		return fmt.Errorf("state: account balance must be non-negative")
	}
	return m.putJSON(accountKey(addr), account)
}

// SetCode marks an address as a contract account. The sniper window uses the
// code hash to tell contracts apart from externally owned accounts.
func (m *Manager) SetCode(addr [20]byte, codeHash []byte) error {
	account, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	account.CodeHash = append([]byte(nil), codeHash...)
	return m.PutAccount(addr, account)
}

// --- Guard configuration ---

// GuardConfigPut persists the injected guard configuration.
func (m *Manager) GuardConfigPut(cfg *token.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg == nil {
		return fmt.Errorf("state: nil guard config")
	}
	return m.putJSON([]byte(keyGuardConfig), cfg)
}

// GuardConfigGet restores the persisted guard configuration, or a fresh one
// when none has been stored yet.
func (m *Manager) GuardConfigGet() (*token.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := token.NewConfig()
	if _, err := m.getJSON([]byte(keyGuardConfig), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// --- Vesting schedules ---

// ScheduleGet returns a copy of the stored schedule for the beneficiary.
func (m *Manager) ScheduleGet(beneficiary [20]byte) (*vesting.Schedule, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	schedule := &vesting.Schedule{}
	ok, err := m.getJSON(scheduleKey(beneficiary), schedule)
	if err != nil || !ok {
		return nil, false, err
	}
	return schedule, true, nil
}

// SchedulePut sanitises and persists the schedule, appending the beneficiary
// to the insertion-ordered registry on first write.
func (m *Manager) SchedulePut(schedule *vesting.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sanitized, err := vesting.SanitizeSchedule(schedule)
	if err != nil {
		return err
	}
	exists, err := m.db.Has(scheduleKey(sanitized.Beneficiary))
	if err != nil {
		return err
	}
	if err := m.putJSON(scheduleKey(sanitized.Beneficiary), sanitized); err != nil {
		return err
	}
	if exists {
		return nil
	}
	list, err := m.readBeneficiaries()
	if err != nil {
		return err
	}
	list = append(list, hex.EncodeToString(sanitized.Beneficiary[:]))
	return m.putJSON([]byte(keyVestRegistry), list)
}

// Beneficiaries returns every beneficiary with a schedule, in insertion
// order.
func (m *Manager) Beneficiaries() ([][20]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list, err := m.readBeneficiaries()
	if err != nil {
		return nil, err
	}
	out := make([][20]byte, 0, len(list))
	for _, encoded := range list {
		raw, err := hex.DecodeString(encoded)
		if err != nil || len(raw) != 20 {
			return nil, fmt.Errorf("state: corrupt beneficiary registry entry %q", encoded)
		}
		var addr [20]byte
		copy(addr[:], raw)
		out = append(out, addr)
	}
	return out, nil
}

func (m *Manager) readBeneficiaries() ([]string, error) {
	var list []string
	if _, err := m.getJSON([]byte(keyVestRegistry), &list); err != nil {
		return nil, err
	}
	return list, nil
}

// --- Approval registry ---

// ApprovalGet returns the stored approval record for the address.
func (m *Manager) ApprovalGet(addr [20]byte) (registry.Approval, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var approval registry.Approval
	ok, err := m.getJSON(approvalKey(addr), &approval)
	if err != nil {
		return registry.Approval{}, false, err
	}
	return approval, ok, nil
}

// ApprovalPut persists the approval record for the address.
func (m *Manager) ApprovalPut(addr [20]byte, approval registry.Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putJSON(approvalKey(addr), approval)
}

// --- Sale state ---

// SaleGet returns the persisted sale ledger.
func (m *Manager) SaleGet() (*sale.State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := sale.NewState()
	ok, err := m.getJSON([]byte(keySaleState), state)
	if err != nil || !ok {
		return nil, false, err
	}
	return state, true, nil
}

// SalePut persists the sale ledger.
func (m *Manager) SalePut(state *sale.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state == nil {
		return fmt.Errorf("state: nil sale state")
	}
	return m.putJSON([]byte(keySaleState), state)
}
