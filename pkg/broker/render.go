package broker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chantierhq/chantier/pkg/contracts"
)

// renderNLP produces the human sentence shown in the confirmation modal.
// It must carry every value the mutation will write, so nothing is
// applied that the user did not read.
func renderNLP(d contracts.MutationDescriptor, diff *contracts.Diff) string {
	product := fmt.Sprintf("%q", diff.Product)
	where := ""
	if diff.SectionLabel != "" {
		where = fmt.Sprintf(" in section %s", diff.SectionLabel)
	}
	switch d.Op {
	case contracts.OpUpdateApproval:
		return fmt.Sprintf("Set %s approval of %s%s to %s (was %s)",
			d.Role, product, where, display(diff.NewValue), display(diff.OldValue))
	case contracts.OpAddReplacementURL:
		return fmt.Sprintf("Add replacement URL %s to %s%s for %s",
			display(diff.NewValue), product, where, d.Role)
	case contracts.OpRemoveReplacementURL:
		return fmt.Sprintf("Remove replacement URL %s from %s%s for %s",
			display(diff.NewValue), product, where, d.Role)
	default:
		return fmt.Sprintf("Change %s of %s%s from %s to %s",
			fieldLabel(d.Field), product, where, display(diff.OldValue), display(diff.NewValue))
	}
}

// renderStructured produces the parameterized technical form. Values are
// bound as a JSON argument list, never interpolated into the call text.
func renderStructured(d contracts.MutationDescriptor, diff *contracts.Diff) string {
	var call string
	var args []any
	switch d.Op {
	case contracts.OpUpdateApproval:
		call = "update_item_approval(item_id=$1, role=$2, status=$3)"
		args = []any{d.ItemID, string(d.Role), diff.NewValue}
	case contracts.OpAddReplacementURL:
		call = "add_replacement_url(item_id=$1, role=$2, url=$3)"
		args = []any{d.ItemID, string(d.Role), diff.NewValue}
	case contracts.OpRemoveReplacementURL:
		call = "remove_replacement_url(item_id=$1, role=$2, url=$3)"
		args = []any{d.ItemID, string(d.Role), diff.NewValue}
	default:
		call = "update_item_field(item_id=$1, field=$2, value=$3)"
		args = []any{d.ItemID, string(d.Field), diff.NewValue}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte("[]")
	}
	return call + " -- " + string(raw)
}

func display(v any) string {
	switch t := v.(type) {
	case nil:
		return "(empty)"
	case string:
		if t == "" {
			return "(empty)"
		}
		return fmt.Sprintf("%q", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func fieldLabel(f contracts.Field) string {
	return strings.ReplaceAll(string(f), "_", " ")
}
