// Package contract holds tracked contracts and their secondary indexes,
// and computes the blast radius of a proposed state change.
//
// The index is an in-memory view. It is rebuilt from CONTRACT_INTAKE and
// STATE_TRANSITION facts at startup and mutated only by the lifecycle
// state machine.
package contract

import (
	"sort"
	"sync"
	"time"

	"github.com/roach88/ledgerline/internal/failure"
)

// Contract is a tracked entity.
type Contract struct {
	ID           string       `json:"id"`
	State        State        `json:"state"`
	SlotID       string       `json:"slot_id"`
	ProducerID   string       `json:"producer_id"`
	CustomerID   string       `json:"customer_id"`
	MonthlyValue float64      `json:"monthly_value"`
	CreatedAt    time.Time    `json:"created_at"`
	History      []Transition `json:"history"`
}

// Transition is one committed state change.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Actor  string    `json:"actor"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
	FactID string    `json:"fact_id,omitempty"`
}

func (c Contract) clone() Contract {
	c.History = append([]Transition(nil), c.History...)
	return c
}

// Index stores contracts with lookups by slot, producer and customer.
// Safe for concurrent use.
type Index struct {
	mu         sync.RWMutex
	contracts  map[string]*Contract
	bySlot     map[string]map[string]struct{}
	byProducer map[string]map[string]struct{}
	byCustomer map[string]map[string]struct{}
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		contracts:  make(map[string]*Contract),
		bySlot:     make(map[string]map[string]struct{}),
		byProducer: make(map[string]map[string]struct{}),
		byCustomer: make(map[string]map[string]struct{}),
	}
}

// Validate checks the fields every contract must carry.
func Validate(c Contract) error {
	const op = "contract.Validate"
	switch {
	case c.ID == "":
		return failure.Validation(op, "contract id is required")
	case c.SlotID == "" || c.ProducerID == "" || c.CustomerID == "":
		return failure.Validation(op, "contract %s: slot_id, producer_id and customer_id are required", c.ID)
	case c.MonthlyValue < 0:
		return failure.Validation(op, "contract %s: monthly_value must be non-negative", c.ID)
	case c.State != "" && !c.State.Valid():
		return failure.Validation(op, "contract %s: unknown state %q", c.ID, c.State)
	}
	return nil
}

// Add registers a new contract. An empty State defaults to Idle.
func (ix *Index) Add(c Contract) error {
	if err := Validate(c); err != nil {
		return err
	}
	if c.State == "" {
		c.State = Idle
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, exists := ix.contracts[c.ID]; exists {
		return failure.Validation("contract.Add", "contract %s already exists", c.ID)
	}
	stored := c.clone()
	ix.contracts[c.ID] = &stored
	ix.link(&stored)
	return nil
}

// Replace overwrites a stored contract, reindexing it if its keys changed.
func (ix *Index) Replace(c Contract) error {
	if err := Validate(c); err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	old, ok := ix.contracts[c.ID]
	if !ok {
		return failure.NotFound("contract.Replace", "contract %s not found", c.ID)
	}
	ix.unlink(old)
	stored := c.clone()
	ix.contracts[c.ID] = &stored
	ix.link(&stored)
	return nil
}

// Get returns a copy of a contract.
func (ix *Index) Get(id string) (Contract, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	c, ok := ix.contracts[id]
	if !ok {
		return Contract{}, failure.NotFound("contract.Get", "contract %s not found", id)
	}
	return c.clone(), nil
}

// List returns every contract ordered by id.
func (ix *Index) List() []Contract {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]Contract, 0, len(ix.contracts))
	for _, c := range ix.contracts {
		out = append(out, c.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of contracts.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.contracts)
}

// BySlot returns the ids of contracts booked into a slot, sorted.
func (ix *Index) BySlot(slotID string) []string { return ix.ids(ix.bySlot, slotID) }

// ByProducer returns the ids of contracts served by a producer, sorted.
func (ix *Index) ByProducer(producerID string) []string { return ix.ids(ix.byProducer, producerID) }

// ByCustomer returns the ids of a customer's contracts, sorted.
func (ix *Index) ByCustomer(customerID string) []string { return ix.ids(ix.byCustomer, customerID) }

func (ix *Index) ids(idx map[string]map[string]struct{}, key string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return sortedKeys(idx[key])
}

func (ix *Index) link(c *Contract) {
	add(ix.bySlot, c.SlotID, c.ID)
	add(ix.byProducer, c.ProducerID, c.ID)
	add(ix.byCustomer, c.CustomerID, c.ID)
}

func (ix *Index) unlink(c *Contract) {
	remove(ix.bySlot, c.SlotID, c.ID)
	remove(ix.byProducer, c.ProducerID, c.ID)
	remove(ix.byCustomer, c.CustomerID, c.ID)
}

func add(idx map[string]map[string]struct{}, key, id string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[id] = struct{}{}
}

func remove(idx map[string]map[string]struct{}, key, id string) {
	set := idx[key]
	delete(set, id)
	if len(set) == 0 {
		delete(idx, key)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
