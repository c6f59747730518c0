package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Guizzs26/siglus-sync/internal/codec"
	"github.com/Guizzs26/siglus-sync/internal/event"
	"github.com/Guizzs26/siglus-sync/internal/models"
	"github.com/google/uuid"
)

// TableSinker applies raw row changes to the local database in one transaction
type TableSinker interface {
	Sink(ctx context.Context, changes []event.TableChangeEvent) error
}

// LocalColumnReader reads a single column of the row matched by keyColumn = key
type LocalColumnReader interface {
	ReadColumn(ctx context.Context, table, column, keyColumn string, key any) (value any, found bool, err error)
}

// LocationManagementHandler reacts to the local facility switching location management on or off
type LocationManagementHandler interface {
	OnLocationManagementChanged(ctx context.Context, facilityID uuid.UUID, enabled bool) error
}

// LocationFlagStore keeps, in the node database, the flag value whose hook last committed.
// AppliedLocationFlag and SaveLocationFlag join the transaction in ctx; SeedLocationFlag commits on
// its own and never overwrites
type LocationFlagStore interface {
	AppliedLocationFlag(ctx context.Context, facilityID uuid.UUID) (enabled bool, found bool, err error)
	SeedLocationFlag(ctx context.Context, facilityID uuid.UUID, enabled bool) error
	SaveLocationFlag(ctx context.Context, facilityID uuid.UUID, enabled bool) error
}

// RightAssignmentScheduler rebuilds derived right assignments in the background
type RightAssignmentScheduler interface {
	RegenerateAsync()
}

type MasterDataEventReplayer struct {
	sinker     TableSinker
	reader     LocalColumnReader
	location   LocationManagementHandler
	flags      LocationFlagStore
	rights     RightAssignmentScheduler
	facilityID uuid.UUID
	logger     *slog.Logger
}

// NewMasterDataEventReplayer builds the replayer of broadcast master data. facilityID is the
// local facility; uuid.Nil disables the location management hook
func NewMasterDataEventReplayer(sinker TableSinker, reader LocalColumnReader, location LocationManagementHandler, flags LocationFlagStore, rights RightAssignmentScheduler, facilityID uuid.UUID, logger *slog.Logger) *MasterDataEventReplayer {
	return &MasterDataEventReplayer{
		sinker:     sinker,
		reader:     reader,
		location:   location,
		flags:      flags,
		rights:     rights,
		facilityID: facilityID,
		logger:     logger,
	}
}

func (*MasterDataEventReplayer) Type() event.Type {
	return event.TypeMasterDataTableChange
}

func (r *MasterDataEventReplayer) Replay(ctx context.Context, rc *ReplayContext) error {
	p, err := codec.DecodePayload[event.MasterDataTableChangeEvent](rc.Event)
	if err != nil {
		return err
	}
	for _, t := range p.TableChangeEvents {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrSink, err)
		}
	}

	incoming, flips := r.incomingLocationFlag(p)
	var before bool
	if flips {
		before, err = r.appliedLocationFlag(ctx)
		if err != nil {
			return err
		}
	}

	if err := r.sinker.Sink(ctx, p.TableChangeEvents); err != nil {
		return fmt.Errorf("%w: %v", ErrSink, err)
	}
	r.logger.Info("Master data applied", "tables", p.Tables())

	if flips && before != incoming {
		r.logger.Info("Location management switched", "facility_id", r.facilityID, "enabled", incoming)
		if err := r.location.OnLocationManagementChanged(ctx, r.facilityID, incoming); err != nil {
			return fmt.Errorf("location management change of %s: %w", r.facilityID, err)
		}
		if err := r.flags.SaveLocationFlag(ctx, r.facilityID, incoming); err != nil {
			return err
		}
	}

	if r.rights != nil && touches(p, models.RoleAssignmentsTable) {
		rc.AfterCommit("regenerateRightAssignments", func(context.Context) error {
			r.rights.RegenerateAsync()
			return nil
		})
	}
	return nil
}

// incomingLocationFlag returns the last enablelocationmanagement value the batch writes for the
// local facility
func (r *MasterDataEventReplayer) incomingLocationFlag(p event.MasterDataTableChangeEvent) (enabled bool, found bool) {
	if r.facilityID == uuid.Nil || r.location == nil || r.flags == nil {
		return false, false
	}
	for _, t := range p.TableChangeEvents {
		if t.QualifiedName() != models.FacilityExtensionTable {
			continue
		}
		facilityIdx := t.ColumnIndex("facilityid")
		flagIdx := t.ColumnIndex(models.EnableLocationManagementColumn)
		if facilityIdx < 0 || flagIdx < 0 {
			continue
		}
		for _, row := range t.RowChangeEvents {
			if row.Deletion || !sameID(row.Values[facilityIdx], r.facilityID) {
				continue
			}
			if v, ok := asBool(row.Values[flagIdx]); ok {
				enabled, found = v, true
			}
		}
	}
	return enabled, found
}

// appliedLocationFlag returns the value the last committed hook ran for. The first time, the value
// still in the sink table becomes the baseline; it is seeded on its own commit because the sink
// may commit independently of this replay
func (r *MasterDataEventReplayer) appliedLocationFlag(ctx context.Context) (bool, error) {
	enabled, found, err := r.flags.AppliedLocationFlag(ctx, r.facilityID)
	if err != nil {
		return false, err
	}
	if found {
		return enabled, nil
	}

	v, found, err := r.reader.ReadColumn(ctx, models.FacilityExtensionTable, models.EnableLocationManagementColumn, "facilityid", r.facilityID.String())
	if err != nil {
		return false, fmt.Errorf("read location management flag: %w", err)
	}
	if found {
		enabled, _ = asBool(v)
	}
	if err := r.flags.SeedLocationFlag(ctx, r.facilityID, enabled); err != nil {
		return false, err
	}
	return enabled, nil
}

func touches(p event.MasterDataTableChangeEvent, table string) bool {
	for _, name := range p.Tables() {
		if name == table {
			return true
		}
	}
	return false
}

func sameID(v any, id uuid.UUID) bool {
	switch x := v.(type) {
	case uuid.UUID:
		return x == id
	case []byte:
		parsed, err := uuid.ParseBytes(x)
		return err == nil && parsed == id
	case string:
		parsed, err := uuid.Parse(x)
		return err == nil && parsed == id
	default:
		return false
	}
}

// asBool accepts the shapes a boolean column takes after JSON or driver decoding
func asBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case json.Number:
		n, err := x.Int64()
		return n != 0, err == nil
	case int64:
		return x != 0, true
	case int:
		return x != 0, true
	case float64:
		return x != 0, true
	case []byte:
		return asBool(string(x))
	case string:
		s := strings.TrimSpace(strings.ToLower(x))
		switch s {
		case "t", "y", "yes":
			return true, true
		case "f", "n", "no":
			return false, true
		}
		b, err := strconv.ParseBool(s)
		return b, err == nil
	default:
		return false, false
	}
}
