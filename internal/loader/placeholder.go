// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package loader

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/platform-engineering-labs/portage/internal/store"
	"github.com/platform-engineering-labs/portage/pkg/model"
)

// Placeholder values satisfy the target field's constraints without being
// anything a real record could plausibly hold. They exist only between the
// create pass and the scalar backfill pass of a single phase.
const (
	PlaceholderText   = "__portage_pending__"
	PlaceholderNumber = float64(-999999)
)

var errNoPlaceholder = errors.New("no placeholder available")

// ConfigError reports a same-phase reference landing on a non-nullable
// field whose kind has no placeholder policy. That is a schema
// configuration problem, not a runtime condition to paper over.
type ConfigError struct {
	TargetType string
	Field      string
	Kind       store.FieldKind
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("field %s.%s of kind %s is not nullable and has no placeholder policy",
		e.TargetType, e.Field, e.Kind)
}

// placeholders assigns synthetic negative identifiers, one per referenced
// Key, stable for the duration of a phase.
type placeholders struct {
	next  int64
	byKey map[model.Key]store.RecordID
}

func newPlaceholders() *placeholders {
	return &placeholders{
		next:  -1_000_000,
		byKey: make(map[model.Key]store.RecordID),
	}
}

func (p *placeholders) idFor(key model.Key) store.RecordID {
	if id, ok := p.byKey[key]; ok {
		return id
	}
	id := store.RecordID(strconv.FormatInt(p.next, 10))
	p.next--
	p.byKey[key] = id
	return id
}

// placeholderFor picks a placeholder by the field's semantic kind. The
// second return is false when the field should simply be left unset.
func placeholderFor(info store.FieldInfo, key model.Key, ph *placeholders) (any, bool, error) {
	switch info.Kind {
	case store.KindIdentifier:
		return ph.idFor(key), true, nil
	case store.KindText:
		return PlaceholderText, true, nil
	case store.KindNumeric:
		return PlaceholderNumber, true, nil
	case store.KindTemporal:
		return time.Now().UTC(), true, nil
	case store.KindBoolean:
		return false, true, nil
	default:
		if info.Nullable {
			return nil, false, nil
		}
		return nil, false, errNoPlaceholder
	}
}
