package models

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/stagesim/featureflag"
	"github.com/aukilabs/stagesim/geom"
	"github.com/aukilabs/stagesim/matrix"
	"github.com/google/uuid"
)

const (
	ErrTypeInvalidConfig  = "world_invalid_config"
	ErrTypeModelNotFound  = "model_not_found"
	ErrTypeParentNotFound = "parent_not_found"
	ErrTypeWorldClosed    = "world_closed"
)

// WorldConfig describes the world to create.
type WorldConfig struct {
	// The number of matrix cells per meter.
	Resolution float64

	// The size of the world, in meters.
	Width  float64
	Height float64

	// The simulated time elapsed at each step.
	FrameDuration time.Duration

	FeatureFlags featureflag.FeatureFlag
}

// Match reports whether a model is the one a raytrace is looking for. It is
// called while the world is locked and must not call World methods.
type Match func(*Model) bool

// FrameHandler is called at each simulation step.
type FrameHandler func(context.Context) error

// Hit is the result of a raytrace. When nothing was hit, Range is the distance
// travelled by the ray.
type Hit struct {
	ModelID uint32     `json:"model_id"`
	Point   geom.Point `json:"point"`
	Range   float64    `json:"range"`
}

// World is a simulated 2D world containing a tree of models. Model outlines
// are indexed in a matrix that serves raytraces.
//
// A single lock protects the model tree and the matrix.
type World struct {
	UUID string

	frameDuration time.Duration

	mutex    sync.RWMutex
	matrix   *matrix.Matrix
	modelIDs SequentialIDGenerator
	models   map[uint32]*Model
	children map[uint32][]uint32
	simTime  time.Duration
	closed   bool

	removeHookID uint64
	removeHooks  map[uint32]map[uint64]func()

	moduleStates map[string]any
	moduleMutex  sync.RWMutex

	startFrameOnce  sync.Once
	closeFrameChan  chan struct{}
	frameHandlerIDs SequentialIDGenerator
	frameHandlers   map[uint32]FrameHandler
	frameOrder      []uint32
	frameMutex      sync.RWMutex

	closeOnce sync.Once
}

func NewWorld(conf WorldConfig) (*World, error) {
	if conf.FrameDuration <= 0 {
		return nil, errors.New("frame duration must be positive").
			WithType(ErrTypeInvalidConfig).
			WithTag("frame_duration", conf.FrameDuration)
	}

	pruning := true
	conf.FeatureFlags.IfSet(featureflag.FlagDisableCellPruning, func() {
		pruning = false
	})

	m, err := matrix.New(conf.Resolution, conf.Width, conf.Height, matrix.WithPruning(pruning))
	if err != nil {
		return nil, err
	}

	return &World{
		UUID:           uuid.New().String(),
		frameDuration:  conf.FrameDuration,
		matrix:         m,
		models:         make(map[uint32]*Model),
		children:       make(map[uint32][]uint32),
		removeHooks:    make(map[uint32]map[uint64]func()),
		moduleStates:   make(map[string]any),
		closeFrameChan: make(chan struct{}),
		frameHandlers:  make(map[uint32]FrameHandler),
	}, nil
}

// Close stops frame dispatching. Closing a world does not release its models.
func (w *World) Close() {
	w.closeOnce.Do(func() {
		w.mutex.Lock()
		w.closed = true
		w.mutex.Unlock()

		close(w.closeFrameChan)
	})
}

func (w *World) Closed() bool {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	return w.closed
}

// AddModel adds a copy of the given model to the world and returns its id.
func (w *World) AddModel(m *Model) (uint32, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.closed {
		return 0, errors.New("world is closed").WithType(ErrTypeWorldClosed)
	}

	model := m.clone()
	if model.ParentID != 0 {
		parent, ok := w.models[model.ParentID]
		if !ok {
			return 0, errors.New("parent model not found").
				WithType(ErrTypeParentNotFound).
				WithTag("parent_id", model.ParentID)
		}
		model.parent = parent
	}

	model.ID = w.modelIDs.New()
	w.models[model.ID] = model
	if model.parent != nil {
		w.children[model.ParentID] = append(w.children[model.ParentID], model.ID)
	}
	w.mapModel(model)

	instrumentIncreaseModelGauge()
	logs.WithTag("world_uuid", w.UUID).
		WithTag("model_id", model.ID).
		WithTag("name", model.Name).
		Debug("model added")
	return model.ID, nil
}

// RemoveModel removes a model and all its descendants from the world. The
// removal hooks of the removed models are called before their ids become
// available to new models.
func (w *World) RemoveModel(id uint32) error {
	removed, hooks, err := w.removeSubtree(id)
	if err != nil {
		return err
	}

	for _, h := range hooks {
		h()
	}

	for _, mid := range removed {
		w.modelIDs.Reuse(mid)
	}
	return nil
}

func (w *World) removeSubtree(id uint32) ([]uint32, []func(), error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	model, ok := w.models[id]
	if !ok {
		return nil, nil, errors.New("model not found").
			WithType(ErrTypeModelNotFound).
			WithTag("model_id", id)
	}

	if model.parent != nil {
		siblings := w.children[model.ParentID]
		for i, c := range siblings {
			if c == id {
				w.children[model.ParentID] = append(siblings[:i], siblings[i+1:]...)
				break
			}
		}
	}

	var hooks []func()
	subtree := w.subtree(id)
	for _, mid := range subtree {
		w.matrix.Remove(matrix.ObjectID(mid))
		w.models[mid].parent = nil
		delete(w.models, mid)
		delete(w.children, mid)

		for _, h := range w.removeHooks[mid] {
			hooks = append(hooks, h)
		}
		delete(w.removeHooks, mid)
	}

	instrumentDecreaseModelGauge(len(subtree))
	logs.WithTag("world_uuid", w.UUID).
		WithTag("model_id", id).
		WithTag("removed", len(subtree)).
		Debug("model removed")
	return subtree, hooks, nil
}

// OnRemove registers a function called once when the model with the given id
// is removed from the world, directly or along with an ancestor. The returned
// cancel function unregisters it.
func (w *World) OnRemove(id uint32, f func()) (cancel func(), err error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if _, ok := w.models[id]; !ok {
		return nil, errors.New("model not found").
			WithType(ErrTypeModelNotFound).
			WithTag("model_id", id)
	}

	w.removeHookID++
	hookID := w.removeHookID
	if w.removeHooks[id] == nil {
		w.removeHooks[id] = make(map[uint64]func())
	}
	w.removeHooks[id][hookID] = f

	return func() {
		w.mutex.Lock()
		defer w.mutex.Unlock()

		delete(w.removeHooks[id], hookID)
	}, nil
}

// Model returns a copy of the model with the given id.
func (w *World) Model(id uint32) (Model, bool) {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	m, ok := w.models[id]
	if !ok {
		return Model{}, false
	}
	return *m.clone(), true
}

// Models returns a copy of all the models, sorted by id.
func (w *World) Models() []Model {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	models := make([]Model, 0, len(w.models))
	for _, m := range w.models {
		models = append(models, *m.clone())
	}

	sort.Slice(models, func(i, j int) bool {
		return models[i].ID < models[j].ID
	})
	return models
}

// Children returns the ids of the direct children of a model, in insertion
// order.
func (w *World) Children(id uint32) []uint32 {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	return append([]uint32(nil), w.children[id]...)
}

// SetPose sets the pose of a model relative to its parent. The model and its
// descendants are re-indexed at their new location.
func (w *World) SetPose(id uint32, pose geom.Pose) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	model, ok := w.models[id]
	if !ok {
		return errors.New("model not found").
			WithType(ErrTypeModelNotFound).
			WithTag("model_id", id)
	}

	subtree := w.subtree(id)
	w.unmap(subtree)
	model.Pose = pose
	w.remap(subtree)
	return nil
}

// SetGeometry replaces the outline of a model.
func (w *World) SetGeometry(id uint32, polygons []geom.Polygon, lines []geom.Segment) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	model, ok := w.models[id]
	if !ok {
		return errors.New("model not found").
			WithType(ErrTypeModelNotFound).
			WithTag("model_id", id)
	}

	w.matrix.Remove(matrix.ObjectID(id))
	model.Polygons = clonePolygons(polygons)
	model.Lines = append([]geom.Segment(nil), lines...)
	w.mapModel(model)
	return nil
}

// GlobalPose returns the pose of a model in world coordinates.
func (w *World) GlobalPose(id uint32) (geom.Pose, error) {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	model, ok := w.models[id]
	if !ok {
		return geom.Pose{}, errors.New("model not found").
			WithType(ErrTypeModelNotFound).
			WithTag("model_id", id)
	}
	return model.globalPose(), nil
}

// LocalToGlobal converts a point expressed in the frame of a model to world
// coordinates.
func (w *World) LocalToGlobal(id uint32, p geom.Point) (geom.Point, error) {
	pose, err := w.GlobalPose(id)
	if err != nil {
		return geom.Point{}, err
	}
	return pose.ToGlobal(p), nil
}

// GlobalToLocal converts a point in world coordinates to the frame of a
// model.
func (w *World) GlobalToLocal(id uint32, p geom.Point) (geom.Point, error) {
	pose, err := w.GlobalPose(id)
	if err != nil {
		return geom.Point{}, err
	}
	return pose.ToLocal(p), nil
}

// Related reports whether a and b are the same model or whether one is an
// ancestor of the other.
func (w *World) Related(a, b uint32) bool {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	ma, ok := w.models[a]
	if !ok {
		return false
	}
	mb, ok := w.models[b]
	if !ok {
		return false
	}
	return ma.Related(mb)
}

// Raytrace casts a ray from origin along bearing and returns the first model
// satisfying match within maxRange.
func (w *World) Raytrace(origin geom.Point, bearing, maxRange float64, match Match) (Hit, bool) {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	return w.raytrace(matrix.NewRay(w.matrix, origin, bearing, maxRange), match)
}

// RaytraceTo casts a ray from origin to target.
func (w *World) RaytraceTo(origin, target geom.Point, match Match) (Hit, bool) {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	return w.raytrace(matrix.NewRayTo(w.matrix, origin, target), match)
}

// RaytraceFrom casts a ray like Raytrace, ignoring the model with the given id,
// its ancestors and its descendants. It is how a model looks at the rest of
// the world.
func (w *World) RaytraceFrom(id uint32, origin geom.Point, bearing, maxRange float64, match Match) (Hit, bool) {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	return w.raytrace(matrix.NewRay(w.matrix, origin, bearing, maxRange), w.unrelated(id, match))
}

// RaytraceFromTo casts a ray like RaytraceTo, ignoring the models related to
// the one with the given id.
func (w *World) RaytraceFromTo(id uint32, origin, target geom.Point, match Match) (Hit, bool) {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	return w.raytrace(matrix.NewRayTo(w.matrix, origin, target), w.unrelated(id, match))
}

func (w *World) unrelated(id uint32, match Match) Match {
	self := w.models[id]
	return func(m *Model) bool {
		return (self == nil || !self.Related(m)) && match(m)
	}
}

func (w *World) raytrace(ray *matrix.Ray, match Match) (Hit, bool) {
	hit, ok := ray.FirstMatching(func(obj matrix.ObjectID) bool {
		m, ok := w.models[uint32(obj)]
		return ok && match(m)
	})
	if !ok {
		return Hit{Point: ray.Point(), Range: ray.Range()}, false
	}

	return Hit{
		ModelID: uint32(hit.Object),
		Point:   hit.Point,
		Range:   hit.Range,
	}, true
}

// TestCollision reports whether the outline of a model, placed at the given
// pose relative to its parent, would cross an obstacle that is not related to
// it. It returns the id of the first obstacle found.
func (w *World) TestCollision(id uint32, pose geom.Pose) (uint32, bool) {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	model, ok := w.models[id]
	if !ok {
		return 0, false
	}

	global := pose
	if model.parent != nil {
		global = geom.Compose(model.parent.globalPose(), pose)
	}

	match := w.unrelated(id, func(o *Model) bool {
		return o.ObstacleReturn
	})

	for _, s := range model.segments(global) {
		if hit, ok := w.raytrace(matrix.NewRayTo(w.matrix, s.A, s.B), match); ok {
			return hit.ModelID, true
		}
	}
	return 0, false
}

// GlobalPoses returns the world coordinates pose of every model, by id.
func (w *World) GlobalPoses() map[uint32]geom.Pose {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	poses := make(map[uint32]geom.Pose, len(w.models))
	for id, m := range w.models {
		poses[id] = m.globalPose()
	}
	return poses
}

// MatrixInfo returns a summary of the world matrix.
func (w *World) MatrixInfo() matrix.DebugInfo {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	return w.matrix.DebugInfo()
}

func (w *World) SimTime() time.Duration {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	return w.simTime
}

func (w *World) FrameDuration() time.Duration {
	return w.frameDuration
}

func (w *World) SetModuleState(key string, state any) {
	w.moduleMutex.Lock()
	defer w.moduleMutex.Unlock()

	w.moduleStates[key] = state
}

func (w *World) ModuleState(key string) (any, bool) {
	w.moduleMutex.RLock()
	defer w.moduleMutex.RUnlock()

	state, ok := w.moduleStates[key]
	return state, ok
}

func (w *World) DeleteModuleState(key string) {
	w.moduleMutex.Lock()
	defer w.moduleMutex.Unlock()

	delete(w.moduleStates, key)
}

// ModuleStates returns a copy of the module states, by key.
func (w *World) ModuleStates() map[string]any {
	w.moduleMutex.RLock()
	defer w.moduleMutex.RUnlock()

	states := make(map[string]any, len(w.moduleStates))
	for k, v := range w.moduleStates {
		states[k] = v
	}
	return states
}

// Subscribe registers a handler called at each step. Handlers are called in
// subscription order.
func (w *World) Subscribe(h FrameHandler) (cancel func()) {
	w.frameMutex.Lock()
	defer w.frameMutex.Unlock()

	id := w.frameHandlerIDs.New()
	w.frameHandlers[id] = h
	w.frameOrder = append(w.frameOrder, id)

	cancelled := false
	return func() {
		w.frameMutex.Lock()
		defer w.frameMutex.Unlock()

		if cancelled {
			return
		}
		cancelled = true
		delete(w.frameHandlers, id)
		for i, fid := range w.frameOrder {
			if fid == id {
				w.frameOrder = append(w.frameOrder[:i], w.frameOrder[i+1:]...)
				break
			}
		}
		w.frameHandlerIDs.Reuse(id)
	}
}

// Step advances the simulated time by one frame and runs the frame handlers.
// Handler errors are logged and do not stop the step.
func (w *World) Step(ctx context.Context) error {
	w.mutex.Lock()
	if w.closed {
		w.mutex.Unlock()
		return errors.New("world is closed").WithType(ErrTypeWorldClosed)
	}
	w.simTime += w.frameDuration
	w.mutex.Unlock()

	w.frameMutex.RLock()
	handlers := make([]FrameHandler, len(w.frameOrder))
	for i, id := range w.frameOrder {
		handlers[i] = w.frameHandlers[id]
	}
	w.frameMutex.RUnlock()

	start := time.Now()
	defer func() {
		instrumentStep(time.Since(start))
	}()

	for _, h := range handlers {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := h(ctx); err != nil {
			logs.WithTag("world_uuid", w.UUID).Warn(err)
		}
	}
	return nil
}

// StartDispatchFrames steps the world every frame duration until the context
// is canceled or the world is closed. It blocks and runs only once.
func (w *World) StartDispatchFrames(ctx context.Context) {
	w.startFrameOnce.Do(func() {
		ticker := time.NewTicker(w.frameDuration)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case <-w.closeFrameChan:
				return

			case <-ticker.C:
				if err := w.Step(ctx); err != nil {
					logs.WithTag("world_uuid", w.UUID).Debug(err)
				}
			}
		}
	})
}

// subtree returns id followed by all its descendants, parents first.
func (w *World) subtree(id uint32) []uint32 {
	ids := []uint32{id}
	for i := 0; i < len(ids); i++ {
		ids = append(ids, w.children[ids[i]]...)
	}
	return ids
}

func (w *World) unmap(ids []uint32) {
	for _, id := range ids {
		w.matrix.Remove(matrix.ObjectID(id))
	}
}

func (w *World) remap(ids []uint32) {
	for _, id := range ids {
		w.mapModel(w.models[id])
	}
}

func (w *World) mapModel(m *Model) {
	w.matrix.Insert(matrix.ObjectID(m.ID), m.segments(m.globalPose())...)
}
