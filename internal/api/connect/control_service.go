package connect

import (
	"context"
	"math"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/jukebox/internal/app/notification"
	"github.com/osa030/jukebox/internal/app/playback"
	"github.com/osa030/jukebox/internal/domain/media"
)

// ServicePath is the mount path of the control service.
const ServicePath = "/jukebox.v1.ControlService/"

// Procedure names.
const (
	StatusProcedure        = ServicePath + "Status"
	PlayProcedure          = ServicePath + "Play"
	PauseProcedure         = ServicePath + "Pause"
	StopProcedure          = ServicePath + "Stop"
	NextProcedure          = ServicePath + "Next"
	PreviousProcedure      = ServicePath + "Previous"
	ReplayProcedure        = ServicePath + "Replay"
	ReplayCurrentProcedure = ServicePath + "ReplayCurrent"
	SeekProcedure          = ServicePath + "Seek"
	AppendProcedure        = ServicePath + "Append"
	RemoveProcedure        = ServicePath + "Remove"
	SetVolumeProcedure     = ServicePath + "SetVolume"
	WatchProcedure         = ServicePath + "Watch"
)

// Controller is the queue controller surface exposed over RPC.
type Controller interface {
	Play()
	PlayAt(index int)
	Pause()
	Stop()
	PlayNext()
	PlayPrevious()
	Replay()
	ReplayCurrentItem()
	Seek(pos time.Duration, shouldPlay bool)
	Append(item *media.Item, loadAssets bool) error
	RemoveItems(locator string) int
	SetVolume(v float64)
	Status() playback.Status
	Items() []*media.Item
	Subscribe(stream notification.Stream[playback.Event]) string
	Unsubscribe(id string)
	Done() <-chan struct{}
}

// ControlService implements the control RPCs over structpb messages.
type ControlService struct {
	controller Controller
}

// NewControlService creates a new ControlService.
func NewControlService(controller Controller) *ControlService {
	return &ControlService{controller: controller}
}

type unaryFunc func(ctx context.Context, args *structpb.Struct) (*structpb.Struct, error)

func unary(procedure string, fn unaryFunc, opts ...connect.HandlerOption) http.Handler {
	return connect.NewUnaryHandler(procedure,
		func(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
			zlog.Debug().Msgf("connect: call: procedure=%s args=%v", procedure, req.Msg.AsMap())
			resp, err := fn(ctx, req.Msg)
			if err != nil {
				return nil, err
			}
			return connect.NewResponse(resp), nil
		},
		opts...,
	)
}

// Handler returns the service mount path and its handler.
func (s *ControlService) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	for procedure, fn := range map[string]unaryFunc{
		StatusProcedure:        s.status,
		PlayProcedure:          s.play,
		PauseProcedure:         s.action((Controller).Pause),
		StopProcedure:          s.action((Controller).Stop),
		NextProcedure:          s.action((Controller).PlayNext),
		PreviousProcedure:      s.action((Controller).PlayPrevious),
		ReplayProcedure:        s.action((Controller).Replay),
		ReplayCurrentProcedure: s.action((Controller).ReplayCurrentItem),
		SeekProcedure:          s.seek,
		AppendProcedure:        s.append,
		RemoveProcedure:        s.remove,
		SetVolumeProcedure:     s.setVolume,
	} {
		mux.Handle(procedure, unary(procedure, fn, opts...))
	}
	mux.Handle(WatchProcedure, connect.NewServerStreamHandler(WatchProcedure, s.watch, opts...))
	return ServicePath, mux
}

// action wraps an argument-less controller operation.
func (s *ControlService) action(op func(Controller)) unaryFunc {
	return func(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
		op(s.controller)
		return s.statusStruct()
	}
}

func (s *ControlService) status(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return s.statusStruct()
}

// play resumes or starts the queue; "index" selects an item.
func (s *ControlService) play(_ context.Context, args *structpb.Struct) (*structpb.Struct, error) {
	index, ok, err := intArg(args, "index")
	if err != nil {
		return nil, err
	}
	if !ok {
		s.controller.Play()
		return s.statusStruct()
	}
	if count := len(s.controller.Items()); index < 0 || index >= count {
		return nil, connect.NewError(connect.CodeOutOfRange, errors.Newf("index %d out of range [0,%d)", index, count))
	}
	s.controller.PlayAt(index)
	return s.statusStruct()
}

func (s *ControlService) seek(_ context.Context, args *structpb.Struct) (*structpb.Struct, error) {
	seconds, ok, err := numberArg(args, "seconds")
	if err != nil {
		return nil, err
	}
	if !ok || seconds < 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("seconds must be a non-negative number"))
	}
	play, _, err := boolArg(args, "play")
	if err != nil {
		return nil, err
	}
	s.controller.Seek(time.Duration(seconds*float64(time.Second)), play)
	return s.statusStruct()
}

func (s *ControlService) append(_ context.Context, args *structpb.Struct) (*structpb.Struct, error) {
	locator, _, err := stringArg(args, "locator")
	if err != nil {
		return nil, err
	}
	if locator == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("locator is required"))
	}
	title, _, err := stringArg(args, "title")
	if err != nil {
		return nil, err
	}
	load, _, err := boolArg(args, "load")
	if err != nil {
		return nil, err
	}

	if err := s.controller.Append(media.NewItem(locator, title), load); err != nil {
		switch {
		case errors.Is(err, playback.ErrDuplicateLocator):
			return nil, connect.NewError(connect.CodeAlreadyExists, err)
		case errors.Is(err, playback.ErrClosed):
			return nil, connect.NewError(connect.CodeUnavailable, err)
		default:
			return nil, connect.NewError(connect.CodeInternal, err)
		}
	}
	zlog.Info().Msgf("connect: appended: locator=%s load=%v", locator, load)
	return s.statusStruct()
}

func (s *ControlService) remove(_ context.Context, args *structpb.Struct) (*structpb.Struct, error) {
	locator, _, err := stringArg(args, "locator")
	if err != nil {
		return nil, err
	}
	if locator == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("locator is required"))
	}
	if n := s.controller.RemoveItems(locator); n == 0 {
		return nil, connect.NewError(connect.CodeNotFound, errors.Newf("no item with locator %q", locator))
	}
	return s.statusStruct()
}

func (s *ControlService) setVolume(_ context.Context, args *structpb.Struct) (*structpb.Struct, error) {
	level, ok, err := numberArg(args, "level")
	if err != nil {
		return nil, err
	}
	if !ok || level < 0 || level > 1 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("level must be within [0,1]"))
	}
	s.controller.SetVolume(level)
	return s.statusStruct()
}

// watchStream hands events to the Watch handler goroutine so that only it
// writes the response stream.
type watchStream struct {
	ctx      context.Context
	cancel   context.CancelCauseFunc
	messages chan *structpb.Struct
}

func (w *watchStream) Send(seq uint64, ev playback.Event) error {
	msg, err := eventStruct(seq, ev)
	if err != nil {
		return err
	}
	select {
	case w.messages <- msg:
		return nil
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
}

// Evicted ends the watch when the client stops keeping up.
func (w *watchStream) Evicted(err error) {
	w.cancel(err)
}

// watch streams the current status followed by one message per event.
func (s *ControlService) watch(
	ctx context.Context,
	_ *connect.Request[structpb.Struct],
	stream *connect.ServerStream[structpb.Struct],
) error {
	ctx, cancel := context.WithCancelCause(ctx)
	ws := &watchStream{ctx: ctx, cancel: cancel, messages: make(chan *structpb.Struct)}

	subscriptionID := s.controller.Subscribe(ws)
	if subscriptionID == "" {
		cancel(nil)
		return connect.NewError(connect.CodeUnavailable, playback.ErrClosed)
	}
	defer func() {
		cancel(nil)
		s.controller.Unsubscribe(subscriptionID)
	}()
	zlog.Info().Msgf("connect: watch started: subscription=%s", subscriptionID)

	status, err := s.statusStruct()
	if err != nil {
		return err
	}
	initial, err := structpb.NewStruct(map[string]any{"type": "status"})
	if err != nil {
		return err
	}
	initial.Fields["status"] = structpb.NewStructValue(status)
	if err := stream.Send(initial); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			if cause := context.Cause(ctx); errors.Is(cause, notification.ErrBacklogExceeded) {
				zlog.Warn().Msgf("connect: watch evicted: subscription=%s", subscriptionID)
				return connect.NewError(connect.CodeResourceExhausted, cause)
			}
			zlog.Info().Msgf("connect: watch ended: subscription=%s", subscriptionID)
			return nil
		case <-s.controller.Done():
			return nil
		case msg := <-ws.messages:
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

func (s *ControlService) statusStruct() (*structpb.Struct, error) {
	st := s.controller.Status()
	items := s.controller.Items()

	list := make([]any, len(items))
	for i, item := range items {
		list[i] = itemMap(item)
	}
	m := map[string]any{
		"state":  st.State.String(),
		"index":  st.Index,
		"count":  st.Count,
		"volume": st.Volume,
		"items":  list,
	}
	if st.Item != nil {
		m["item"] = itemMap(st.Item)
	}
	if st.HasPosition {
		m["position_sec"] = st.Position.Seconds()
	}
	if st.HasDuration {
		m["duration_sec"] = st.Duration.Seconds()
	}
	v, err := structpb.NewStruct(m)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return v, nil
}

func eventStruct(seq uint64, ev playback.Event) (*structpb.Struct, error) {
	m := map[string]any{
		"seq":   seq,
		"type":  ev.Type.String(),
		"state": ev.State.String(),
		"index": ev.Index,
	}
	if ev.Item != nil {
		m["item"] = itemMap(ev.Item)
	}
	return structpb.NewStruct(m)
}

func itemMap(item *media.Item) map[string]any {
	meta := item.Meta()
	m := map[string]any{
		"id":         item.ID(),
		"locator":    item.Locator(),
		"title":      item.DisplayTitle(),
		"load_state": item.LoadState().String(),
	}
	if meta.Artist != "" {
		m["artist"] = meta.Artist
	}
	if meta.Album != "" {
		m["album"] = meta.Album
	}
	if meta.DurationKnown {
		m["duration_sec"] = meta.Duration.Seconds()
	}
	if pos, ok := item.CurrentTime(); ok {
		m["position_sec"] = pos.Seconds()
	}
	return m
}

func field(args *structpb.Struct, key string) *structpb.Value {
	if args == nil {
		return nil
	}
	v, ok := args.GetFields()[key]
	if !ok {
		return nil
	}
	if _, null := v.GetKind().(*structpb.Value_NullValue); null {
		return nil
	}
	return v
}

func invalidArg(key, want string) error {
	return connect.NewError(connect.CodeInvalidArgument, errors.Newf("%s must be a %s", key, want))
}

func numberArg(args *structpb.Struct, key string) (float64, bool, error) {
	v := field(args, key)
	if v == nil {
		return 0, false, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || math.IsNaN(n.NumberValue) || math.IsInf(n.NumberValue, 0) {
		return 0, false, invalidArg(key, "number")
	}
	return n.NumberValue, true, nil
}

func intArg(args *structpb.Struct, key string) (int, bool, error) {
	n, ok, err := numberArg(args, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	if n != math.Trunc(n) {
		return 0, false, invalidArg(key, "whole number")
	}
	return int(n), true, nil
}

func stringArg(args *structpb.Struct, key string) (string, bool, error) {
	v := field(args, key)
	if v == nil {
		return "", false, nil
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", false, invalidArg(key, "string")
	}
	return s.StringValue, true, nil
}

func boolArg(args *structpb.Struct, key string) (bool, bool, error) {
	v := field(args, key)
	if v == nil {
		return false, false, nil
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, false, invalidArg(key, "bool")
	}
	return b.BoolValue, true, nil
}
