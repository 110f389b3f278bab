package render

import (
	"errors"
	"fmt"
	"strings"
)

// MaxCallbackData is the platform limit on button data, in bytes.
const MaxCallbackData = 64

// Callback namespaces.
const (
	NSWizard     = "wiz"
	NSExpense    = "exp"
	NSSettlement = "stl"
	NSMenu       = "menu"
	NSSettings   = "set"
)

// Wizard actions. ID is the draft id.
const (
	WizNext      = "n"
	WizBack      = "b"
	WizCancel    = "x"
	WizConfirm   = "ok"
	WizEdit      = "e"  // Arg: step
	WizCategory  = "c"  // Arg: category name
	WizDebtor    = "d"  // Arg: user id
	WizAll       = "a"  // select or clear every debtor
	WizPayee     = "p"  // Arg: user id
	WizFull      = "f"  // settle the full owed amount
	WizNoReceipt = "nr" // expense without receipt
	WizNoProof   = "np" // cash settlement
	WizRemove    = "rm" // Arg: file ref id; ID is empty
)

// Card actions on expenses and settlements. ID is the record id.
const (
	CardConfirm = "ok"
	CardReject  = "no"
	CardEdit    = "edit"
	CardDelete  = "del"
)

// Menu actions.
const (
	MenuMain       = "main"
	MenuExpense    = "expense"
	MenuSettle     = "settle"
	MenuBalances   = "balances"
	MenuMine       = "mine"
	MenuAll        = "all"
	MenuReports    = "reports"
	MenuHistory    = "history" // ID: offset
	MenuCategories = "categories"
	MenuHelp       = "help"
	MenuClose      = "close"
	MenuClear      = "clear" // ID: debtor user id
)

// Settings actions.
const (
	SetOpen   = "open"
	SetToggle = "t" // ID: models.SettingsToggle
	SetDone   = "done"
)

// ErrMalformedCallback is returned for button data this bot did not produce.
var ErrMalformedCallback = errors.New("malformed callback data")

// Callback is decoded button data of the form "ns:action[:id[:arg]]".
type Callback struct {
	NS     string
	Action string
	ID     string
	Arg    string
}

// String encodes c. Trailing empty parts are omitted.
func (c Callback) String() string {
	parts := []string{c.NS, c.Action}
	switch {
	case c.Arg != "":
		parts = append(parts, c.ID, c.Arg)
	case c.ID != "":
		parts = append(parts, c.ID)
	}
	return strings.Join(parts, ":")
}

// ParseCallback decodes data produced by Callback.String.
func ParseCallback(data string) (Callback, error) {
	parts := strings.SplitN(data, ":", 4)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Callback{}, fmt.Errorf("%w: %q", ErrMalformedCallback, data)
	}
	c := Callback{NS: parts[0], Action: parts[1]}
	if len(parts) > 2 {
		c.ID = parts[2]
	}
	if len(parts) > 3 {
		c.Arg = parts[3]
	}
	switch c.NS {
	case NSWizard, NSExpense, NSSettlement, NSMenu, NSSettings:
		return c, nil
	default:
		return Callback{}, fmt.Errorf("%w: unknown namespace %q", ErrMalformedCallback, c.NS)
	}
}

func wiz(action, draftID string, arg ...string) string {
	c := Callback{NS: NSWizard, Action: action, ID: draftID}
	if len(arg) > 0 {
		c.Arg = arg[0]
	}
	return c.String()
}

func menu(action string, id ...string) string {
	c := Callback{NS: NSMenu, Action: action}
	if len(id) > 0 {
		c.ID = id[0]
	}
	return c.String()
}
