package models

import (
	"encoding/json"
	"fmt"
	"slices"
)

// DraftKind identifies which wizard a draft belongs to.
type DraftKind string

const (
	KindExpense    DraftKind = "expense"
	KindSettlement DraftKind = "settlement"
	KindClearDebt  DraftKind = "clear_debt"
)

// Expense wizard steps.
const (
	ExpenseStepAmount      = 1
	ExpenseStepReceipts    = 2
	ExpenseStepDescription = 3
	ExpenseStepDebtors     = 4
	ExpenseStepReview      = 5
)

// Settlement wizard steps.
const (
	SettlementStepPayee  = 1
	SettlementStepAmount = 2
	SettlementStepProof  = 3
	SettlementStepReview = 4
)

// Clear-debt wizard steps.
const (
	ClearDebtStepAmount  = 1
	ClearDebtStepConfirm = 2
)

// ReviewStep returns the terminal step of the wizard for kind.
func ReviewStep(kind DraftKind) int {
	switch kind {
	case KindExpense:
		return ExpenseStepReview
	case KindSettlement:
		return SettlementStepReview
	case KindClearDebt:
		return ClearDebtStepConfirm
	default:
		return 1
	}
}

// Draft is an in-progress wizard for one member in one group.
// At most one live draft exists per (ChatID, UserID).
type Draft struct {
	// ID is the unique identifier for the draft (UUID format).
	ID string

	// ChatID is the group the wizard runs in.
	ChatID int64

	// UserID is the member driving the wizard.
	UserID int64

	// Kind selects the wizard.
	Kind DraftKind

	// Step is the current 1-based step.
	Step int

	// Payload holds the collected fields. Its concrete type always matches Kind.
	Payload Payload

	// MessageID is the wizard message the draft is reflected into.
	MessageID int64

	// Revision increments on every write; updates compare-and-swap against it.
	Revision int64

	// CreatedAt, UpdatedAt and ExpiresAt are Unix timestamps.
	CreatedAt int64
	UpdatedAt int64
	ExpiresAt int64
}

// Expired reports whether the draft is past its expiry at now.
func (d *Draft) Expired(now int64) bool {
	return d.ExpiresAt <= now
}

// DraftFile is an attachment reference kept inside a draft payload.
type DraftFile struct {
	RefID            string `json:"ref_id"`
	FileID           string `json:"file_id"`
	ArchiveMessageID int64  `json:"archive_message_id"`
	MIME             string `json:"mime"`
	Size             int64  `json:"size,omitempty"`
}

// Payload is the sealed sum type of wizard payloads.
type Payload interface {
	DraftKind() DraftKind
	Attachments() []DraftFile
	SetAttachments(files []DraftFile)
	isPayload()
}

// ExpensePayload collects the fields of the expense wizard.
type ExpensePayload struct {
	Amount      Amount      `json:"amount_u5,omitempty"`
	Files       []DraftFile `json:"files,omitempty"`
	NoReceipt   bool        `json:"no_receipt,omitempty"`
	Description string      `json:"description,omitempty"`
	Categories  []string    `json:"categories,omitempty"`
	Debtors     []int64     `json:"debtors,omitempty"`
	// ReplacesID is set when the draft was seeded from an existing expense.
	ReplacesID string `json:"replaces_id,omitempty"`
}

// SettlementPayload collects the fields of the settlement wizard.
type SettlementPayload struct {
	Payee      int64       `json:"payee,omitempty"`
	Amount     Amount      `json:"amount_u5,omitempty"`
	Files      []DraftFile `json:"files,omitempty"`
	NoProof    bool        `json:"no_proof,omitempty"`
	ReplacesID string      `json:"replaces_id,omitempty"`
}

// ClearDebtPayload collects the fields of the clear-debt wizard.
type ClearDebtPayload struct {
	Debtor        int64  `json:"debtor"`
	TotalDebt     Amount `json:"total_debt_u5"`
	AmountToClear Amount `json:"amount_to_clear_u5,omitempty"`
}

func (*ExpensePayload) DraftKind() DraftKind    { return KindExpense }
func (*SettlementPayload) DraftKind() DraftKind { return KindSettlement }
func (*ClearDebtPayload) DraftKind() DraftKind  { return KindClearDebt }

func (p *ExpensePayload) Attachments() []DraftFile    { return p.Files }
func (p *SettlementPayload) Attachments() []DraftFile { return p.Files }
func (p *ClearDebtPayload) Attachments() []DraftFile  { return nil }

func (p *ExpensePayload) SetAttachments(files []DraftFile)    { p.Files = files }
func (p *SettlementPayload) SetAttachments(files []DraftFile) { p.Files = files }
func (p *ClearDebtPayload) SetAttachments([]DraftFile)        {}

func (*ExpensePayload) isPayload()    {}
func (*SettlementPayload) isPayload() {}
func (*ClearDebtPayload) isPayload()  {}

// ToggleDebtor adds or removes a debtor.
func (p *ExpensePayload) ToggleDebtor(userID int64) {
	if i := slices.Index(p.Debtors, userID); i >= 0 {
		p.Debtors = slices.Delete(p.Debtors, i, i+1)
		return
	}
	p.Debtors = append(p.Debtors, userID)
}

// NewPayload returns an empty payload for kind.
func NewPayload(kind DraftKind) (Payload, error) {
	switch kind {
	case KindExpense:
		return &ExpensePayload{}, nil
	case KindSettlement:
		return &SettlementPayload{}, nil
	case KindClearDebt:
		return &ClearDebtPayload{}, nil
	default:
		return nil, fmt.Errorf("unknown draft kind: %q", kind)
	}
}

// ClonePayload returns a deep copy of p.
func ClonePayload(p Payload) Payload {
	switch v := p.(type) {
	case *ExpensePayload:
		c := *v
		c.Files = slices.Clone(v.Files)
		c.Categories = slices.Clone(v.Categories)
		c.Debtors = slices.Clone(v.Debtors)
		return &c
	case *SettlementPayload:
		c := *v
		c.Files = slices.Clone(v.Files)
		return &c
	case *ClearDebtPayload:
		c := *v
		return &c
	default:
		return p
	}
}

// payloadVersion is bumped whenever a payload's JSON shape changes incompatibly.
const payloadVersion = 1

type payloadEnvelope struct {
	Version int             `json:"v"`
	Kind    DraftKind       `json:"kind"`
	Data    json.RawMessage `json:"data"`
}

// EncodePayload serializes p into its versioned envelope.
func EncodePayload(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return json.Marshal(payloadEnvelope{Version: payloadVersion, Kind: p.DraftKind(), Data: data})
}

// DecodePayload parses an envelope written by EncodePayload and checks it matches kind.
func DecodePayload(kind DraftKind, raw []byte) (Payload, error) {
	var env payloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode payload envelope: %w", err)
	}
	if env.Version != payloadVersion {
		return nil, fmt.Errorf("unsupported payload version: %d", env.Version)
	}
	if env.Kind != kind {
		return nil, fmt.Errorf("payload kind %q does not match draft kind %q", env.Kind, kind)
	}

	p, err := NewPayload(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env.Data, p); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", kind, err)
	}
	return p, nil
}
