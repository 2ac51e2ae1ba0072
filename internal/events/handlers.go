package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/collabtodo/collabd/internal/coordinator"
	"github.com/collabtodo/collabd/internal/model"
	"github.com/collabtodo/collabd/internal/permission"
	"github.com/collabtodo/collabd/internal/repository"
	"github.com/collabtodo/collabd/internal/validate"
)

// Session is the minimal shape a handler needs from a connected client
// (internal/transport.Client satisfies this): an identity, a bound user,
// and a way to push a reply frame.
type Session interface {
	ID() string
	UserID() string
	Send(payload []byte) bool
	Subscribe(listID string)
}

// Dispatcher routes one decoded Envelope to its handler, implementing the
// uniform tagged-union dispatch spec.md §9 calls for (no string-keyed
// reflection).
type Dispatcher struct {
	coord  *coordinator.Coordinator
	repo   repository.Repository
	logger zerolog.Logger
}

func NewDispatcher(coord *coordinator.Coordinator, repo repository.Repository, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{coord: coord, repo: repo, logger: logger}
}

// Dispatch decodes raw against kind's handler. Every handler is wrapped so
// a panic becomes internal_error and the socket stays open (spec.md §7).
func (d *Dispatcher) Dispatch(ctx context.Context, sess Session, kind Kind, raw json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Str("kind", string(kind)).Msg("event handler panicked")
			d.reply(sess, NewError(KindError, "internal_error", "internal error"))
		}
	}()

	switch kind {
	case KindJoinList:
		d.handleJoinList(ctx, sess, raw)
	case KindCreateList:
		d.handleCreateList(ctx, sess, raw)
	case KindShareList:
		d.handleShareList(ctx, sess, raw)
	case KindAddItem:
		d.handleAddItem(ctx, sess, raw)
	case KindUpdateItem:
		d.handleUpdateItem(ctx, sess, raw)
	case KindDeleteItem:
		d.handleDeleteItem(ctx, sess, raw)
	case KindDeleteList:
		d.handleDeleteList(ctx, sess, raw)
	case KindJoin:
		d.handleJoin(ctx, sess)
	default:
		d.reply(sess, NewError(KindValidationError, "validation_error", fmt.Sprintf("unknown event type %q", kind)))
	}
}

func (d *Dispatcher) reply(sess Session, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		d.logger.Error().Err(err).Msg("encode reply")
		return
	}
	sess.Send(data)
}

func decode[T any](raw json.RawMessage) (T, []validate.FieldError) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		var zero T
		return zero, []validate.FieldError{{Field: "_", Message: "malformed payload"}}
	}
	if errs := validate.Struct(v); len(errs) > 0 {
		return v, errs
	}
	return v, nil
}

func (d *Dispatcher) checkPermission(ctx context.Context, sess Session, listID string, action model.Action) bool {
	role, err := permission.RoleFor(ctx, d.repo, listID, sess.UserID())
	if err != nil {
		d.reply(sess, NewError(KindError, "transient_error", "could not resolve membership"))
		return false
	}
	if err := permission.Check(role, action); err != nil {
		d.reply(sess, NewError(KindPermissionError, "permission_denied", err.Error()))
		return false
	}
	return true
}

// handleJoin implements spec.md §4.11's "join": for every list the caller
// belongs to, send a snapshot and subscribe.
func (d *Dispatcher) handleJoin(ctx context.Context, sess Session) {
	lists, err := d.repo.GetListsForUser(ctx, sess.UserID())
	if err != nil {
		d.reply(sess, NewError(KindError, "transient_error", "could not load memberships"))
		return
	}
	for _, l := range lists {
		entry, err := d.coord.SnapshotList(ctx, l.ListID)
		if err != nil {
			continue
		}
		d.reply(sess, NewListSnapshot(entry))
		sess.Subscribe(l.ListID)
	}
}

func (d *Dispatcher) handleJoinList(ctx context.Context, sess Session, raw json.RawMessage) {
	payload, errs := decode[JoinListPayload](raw)
	if errs != nil {
		d.reply(sess, NewError(KindValidationError, "validation_error", fieldMessages(errs)))
		return
	}
	if !d.checkPermission(ctx, sess, payload.ListID, model.ActionRead) {
		return
	}

	entry, err := d.coord.SnapshotList(ctx, payload.ListID)
	if err != nil {
		d.replyNotFoundOrTransient(sess, err)
		return
	}
	d.reply(sess, NewListSnapshot(entry))
	sess.Subscribe(payload.ListID)
}

func (d *Dispatcher) handleCreateList(ctx context.Context, sess Session, raw json.RawMessage) {
	payload, errs := decode[CreateListPayload](raw)
	if errs != nil {
		d.reply(sess, NewError(KindValidationError, "validation_error", fieldMessages(errs)))
		return
	}

	entry, err := d.coord.CreateList(ctx, sess.UserID(), payload.ListName)
	if err != nil {
		d.reply(sess, NewError(KindError, "transient_error", "could not create list"))
		return
	}
	d.reply(sess, ListCreatedEvent{
		Type: KindListCreated, ListID: entry.ListID, ListName: entry.ListName,
		Items: entry.VisibleItems(), Rev: entry.Rev.String(),
	})
	sess.Subscribe(entry.ListID)
}

func (d *Dispatcher) handleShareList(ctx context.Context, sess Session, raw json.RawMessage) {
	payload, errs := decode[ShareListPayload](raw)
	if errs != nil {
		d.reply(sess, NewError(KindValidationError, "validation_error", fieldMessages(errs)))
		return
	}
	if !d.checkPermission(ctx, sess, payload.ListID, model.ActionShare) {
		return
	}

	if err := d.coord.ShareList(ctx, payload.ListID, payload.UserID, payload.Role); err != nil {
		d.reply(sess, NewError(KindError, "transient_error", "could not share list"))
		return
	}
	d.reply(sess, ListShareSuccessEvent{
		Type: KindListShareSuccess, ListID: payload.ListID, SharedWith: payload.UserID,
		Message: "list shared",
	})
}

func (d *Dispatcher) handleAddItem(ctx context.Context, sess Session, raw json.RawMessage) {
	payload, errs := decode[AddItemPayload](raw)
	if errs != nil {
		d.reply(sess, NewError(KindValidationError, "validation_error", fieldMessages(errs)))
		return
	}
	if !d.checkPermission(ctx, sess, payload.ListID, model.ActionWrite) {
		return
	}

	now := time.Now().UTC()
	item := model.TodoItem{
		ItemID: model.NewID(), ListID: payload.ListID, Name: payload.Name,
		Description: payload.Description, Status: model.StatusNotStarted,
		CreatedAt: now, UpdatedAt: now,
	}

	_, _, err := d.coord.AddItem(ctx, payload.ListID, item)
	if err != nil {
		d.reply(sess, NewError(KindError, "transient_error", "could not add item"))
		return
	}
	// The reply fans out through the pub/sub loop like every other node's
	// view of this write (spec.md §4.6 "broadcast to self"); this handler
	// does not reply directly.
}

func (d *Dispatcher) handleUpdateItem(ctx context.Context, sess Session, raw json.RawMessage) {
	payload, errs := decode[UpdateItemPayload](raw)
	if errs != nil {
		d.reply(sess, NewError(KindValidationError, "validation_error", fieldMessages(errs)))
		return
	}
	if !d.checkPermission(ctx, sess, payload.ListID, model.ActionWrite) {
		return
	}

	var clientRev *model.Revision
	if payload.Rev != nil {
		var r model.Revision
		if err := r.UnmarshalJSON([]byte(`"` + *payload.Rev + `"`)); err == nil {
			clientRev = &r
		}
	}

	_, _, err := d.coord.UpdateItem(ctx, payload.ListID, payload.ItemID, payload.ItemPatch, clientRev)
	if err != nil {
		if errors.Is(err, coordinator.ErrRevisionConflict) {
			entry, snapErr := d.coord.SnapshotList(ctx, payload.ListID)
			if snapErr == nil {
				d.reply(sess, NewListSnapshot(entry))
			}
			d.reply(sess, NewError(KindError, "revision_conflict", "stale revision"))
			return
		}
		d.replyNotFoundOrTransient(sess, err)
		return
	}
}

func (d *Dispatcher) handleDeleteItem(ctx context.Context, sess Session, raw json.RawMessage) {
	payload, errs := decode[DeleteItemPayload](raw)
	if errs != nil {
		d.reply(sess, NewError(KindValidationError, "validation_error", fieldMessages(errs)))
		return
	}
	if !d.checkPermission(ctx, sess, payload.ListID, model.ActionWrite) {
		return
	}

	if _, err := d.coord.DeleteItem(ctx, payload.ListID, payload.ItemID); err != nil {
		d.replyNotFoundOrTransient(sess, err)
		return
	}
}

// handleDeleteList is the [NEW] event for the Open Question resolution in
// spec.md §9 ("an implementer may need to add a delete_list event").
// Owner-only, matching C7's share-equivalent authority level.
func (d *Dispatcher) handleDeleteList(ctx context.Context, sess Session, raw json.RawMessage) {
	payload, errs := decode[DeleteListPayload](raw)
	if errs != nil {
		d.reply(sess, NewError(KindValidationError, "validation_error", fieldMessages(errs)))
		return
	}
	if !d.checkPermission(ctx, sess, payload.ListID, model.ActionShare) {
		return
	}

	if err := d.coord.DeleteList(ctx, payload.ListID); err != nil {
		d.reply(sess, NewError(KindError, "transient_error", "could not delete list"))
		return
	}
}

func (d *Dispatcher) replyNotFoundOrTransient(sess Session, err error) {
	if errors.Is(err, coordinator.ErrNotFound) || errors.Is(err, repository.ErrNotFound) {
		d.reply(sess, NewError(KindError, "not_found", "list or item not found"))
		return
	}
	d.reply(sess, NewError(KindError, "transient_error", err.Error()))
}

func fieldMessages(errs []validate.FieldError) string {
	if len(errs) == 0 {
		return ""
	}
	msg := errs[0].Message
	for _, e := range errs[1:] {
		msg += "; " + e.Message
	}
	return msg
}
