package tokenregistry

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrTokenNotRegistered     = errors.New("token not registered")
	ErrTokenAlreadyRegistered = errors.New("token already registered")
	ErrInvalidAmount          = errors.New("amount must not be negative")
	ErrInsufficientBalance    = errors.New("transfer amount exceeds balance")
	ErrInsufficientAllowance  = errors.New("transfer amount exceeds allowance")
)

type allowanceKey struct {
	owner, spender common.Address
}

type changeKind uint8

const (
	balanceChange changeKind = iota
	allowanceChange
	supplyChange
	externalChange
)

// change is one journal entry; prev is nil when the slot did not exist.
type change struct {
	kind    changeKind
	token   common.Address
	account common.Address
	spender common.Address
	prev    *big.Int
	undo    func()
}

type revision struct {
	id           int
	journalIndex int
}

// Ledger is an in-memory ERC-20 style balance book for a set of registered tokens.
// Changes are journaled so callers can take nested snapshots and roll back to them.
// Snapshots assume calls that use them are serialized.
type Ledger struct {
	mu sync.Mutex

	tokens      map[common.Address]Token
	balances    map[common.Address]map[common.Address]*big.Int
	allowances  map[common.Address]map[allowanceKey]*big.Int
	totalSupply map[common.Address]*big.Int

	journal        []change
	revisions      []revision
	nextRevisionID int
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		tokens:      make(map[common.Address]Token),
		balances:    make(map[common.Address]map[common.Address]*big.Int),
		allowances:  make(map[common.Address]map[allowanceKey]*big.Int),
		totalSupply: make(map[common.Address]*big.Int),
	}
}

// Register adds a token. Registration is not journaled.
func (l *Ledger) Register(token Token) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tokens[token.Address]; ok {
		return fmt.Errorf("%w: %s", ErrTokenAlreadyRegistered, token.Address)
	}
	l.tokens[token.Address] = token
	l.balances[token.Address] = make(map[common.Address]*big.Int)
	l.allowances[token.Address] = make(map[allowanceKey]*big.Int)
	l.totalSupply[token.Address] = new(big.Int)
	return nil
}

// Token returns a registered token's metadata.
func (l *Ledger) Token(address common.Address) (Token, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tokens[address]
	return t, ok
}

// Tokens returns every registered token ordered by ID.
func (l *Ledger) Tokens() []Token {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Token, 0, len(l.tokens))
	for _, t := range l.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *Ledger) checkToken(token common.Address) error {
	if _, ok := l.tokens[token]; !ok {
		return fmt.Errorf("%w: %s", ErrTokenNotRegistered, token)
	}
	return nil
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (l *Ledger) balance(token, account common.Address) *big.Int {
	if b, ok := l.balances[token][account]; ok {
		return b
	}
	return new(big.Int)
}

func (l *Ledger) setBalance(token, account common.Address, v *big.Int) {
	prev := l.balances[token][account]
	l.journal = append(l.journal, change{kind: balanceChange, token: token, account: account, prev: prev})
	l.balances[token][account] = v
}

// Mint creates amount new units of token for to.
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkToken(token); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.journal = append(l.journal, change{kind: supplyChange, token: token, prev: l.totalSupply[token]})
	l.totalSupply[token] = new(big.Int).Add(l.totalSupply[token], amount)
	l.setBalance(token, to, new(big.Int).Add(l.balance(token, to), amount))
	return nil
}

// TotalSupply returns the minted supply of token.
func (l *Ledger) TotalSupply(token common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkToken(token); err != nil {
		return nil, err
	}
	return new(big.Int).Set(l.totalSupply[token]), nil
}

// BalanceOf returns account's balance of token.
func (l *Ledger) BalanceOf(token, account common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkToken(token); err != nil {
		return nil, err
	}
	return new(big.Int).Set(l.balance(token, account)), nil
}

// Transfer moves amount of token from one account to another.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transfer(token, from, to, amount)
}

func (l *Ledger) transfer(token, from, to common.Address, amount *big.Int) error {
	if err := l.checkToken(token); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	fromBalance := l.balance(token, from)
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from, fromBalance, amount)
	}
	l.setBalance(token, from, new(big.Int).Sub(fromBalance, amount))
	l.setBalance(token, to, new(big.Int).Add(l.balance(token, to), amount))
	return nil
}

// Approve sets the amount spender may move out of owner's balance.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkToken(token); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.setAllowance(token, owner, spender, new(big.Int).Set(amount))
	return nil
}

func (l *Ledger) setAllowance(token, owner, spender common.Address, v *big.Int) {
	key := allowanceKey{owner, spender}
	prev := l.allowances[token][key]
	l.journal = append(l.journal, change{kind: allowanceChange, token: token, account: owner, spender: spender, prev: prev})
	l.allowances[token][key] = v
}

// Allowance returns what spender may still move out of owner's balance.
func (l *Ledger) Allowance(token, owner, spender common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkToken(token); err != nil {
		return nil, err
	}
	if a, ok := l.allowances[token][allowanceKey{owner, spender}]; ok {
		return new(big.Int).Set(a), nil
	}
	return new(big.Int), nil
}

// TransferFrom moves amount from one account to another on behalf of spender.
func (l *Ledger) TransferFrom(token, spender, from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkToken(token); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	allowance, ok := l.allowances[token][allowanceKey{from, spender}]
	if !ok || allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s for %s", ErrInsufficientAllowance, spender, from)
	}
	if err := l.transfer(token, from, to, amount); err != nil {
		return err
	}
	l.setAllowance(token, from, spender, new(big.Int).Sub(allowance, amount))
	return nil
}

// Snapshot returns an identifier for the current state.
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextRevisionID
	l.nextRevisionID++
	l.revisions = append(l.revisions, revision{id: id, journalIndex: len(l.journal)})
	return id
}

// AppendUndo journals a change made outside the ledger. If a snapshot taken
// before this call is reverted, undo runs after the ledger's own changes are
// rolled back and without the ledger lock held. Without an open snapshot undo is
// dropped.
func (l *Ledger) AppendUndo(undo func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.revisions) == 0 {
		return
	}
	l.journal = append(l.journal, change{kind: externalChange, undo: undo})
}

// RevertToSnapshot undoes every change made since the snapshot was taken and
// invalidates it and any later snapshots.
func (l *Ledger) RevertToSnapshot(id int) {
	for _, undo := range l.revert(id) {
		undo()
	}
}

// revert rolls back the ledger's own changes and returns the external undos,
// newest first.
func (l *Ledger) revert(id int) []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := l.revisionIndex(id)
	if idx < 0 {
		panic(fmt.Errorf("revision id %v cannot be reverted", id))
	}
	snapshot := l.revisions[idx].journalIndex

	var external []func()
	for i := len(l.journal) - 1; i >= snapshot; i-- {
		if c := l.journal[i]; c.kind == externalChange {
			external = append(external, c.undo)
		} else {
			l.undo(c)
		}
	}
	l.journal = l.journal[:snapshot]
	l.revisions = l.revisions[:idx]
	return external
}

// DiscardSnapshot keeps the changes made since the snapshot and releases it and any
// later snapshots.
func (l *Ledger) DiscardSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := l.revisionIndex(id)
	if idx < 0 {
		return
	}
	l.revisions = l.revisions[:idx]
	if len(l.revisions) == 0 {
		l.journal = l.journal[:0]
	}
}

func (l *Ledger) revisionIndex(id int) int {
	idx := sort.Search(len(l.revisions), func(i int) bool {
		return l.revisions[i].id >= id
	})
	if idx == len(l.revisions) || l.revisions[idx].id != id {
		return -1
	}
	return idx
}

func (l *Ledger) undo(c change) {
	switch c.kind {
	case balanceChange:
		if c.prev == nil {
			delete(l.balances[c.token], c.account)
		} else {
			l.balances[c.token][c.account] = c.prev
		}
	case allowanceChange:
		key := allowanceKey{c.account, c.spender}
		if c.prev == nil {
			delete(l.allowances[c.token], key)
		} else {
			l.allowances[c.token][key] = c.prev
		}
	case supplyChange:
		l.totalSupply[c.token] = c.prev
	}
}
