// Package registry holds the cameras and devices shown on the dashboard. It
// starts camera streams, announces cameras to TAK and ranks devices for
// display.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"fusion-svr/internal/cot"
	"fusion-svr/internal/geo"
	"fusion-svr/internal/observability"
)

type Status string

const (
	StatusOffline Status = "offline"
	StatusOnline  Status = "online"
)

const (
	defaultPriority = 3
	announcePrefix  = "camera-"
	snapshotTimeout = 2 * time.Second
)

var (
	ErrInvalidConfig = errors.New("registry: invalid camera config")
	ErrNotFound      = errors.New("registry: camera not found")
)

var validate = validator.New()

type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt"`
}

type Camera struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	RTSPURL    string    `json:"rtspUrl"`
	Position   Position  `json:"position"`
	Priority   int       `json:"priority"`
	Status     Status    `json:"status"`
	StreamURL  string    `json:"streamUrl,omitempty"`
	LastUpdate time.Time `json:"lastUpdate"`
}

func (c Camera) Location() (float64, float64) { return c.Position.Lat, c.Position.Lon }

// CameraConfig is how a camera is declared, in config files or by callers.
type CameraConfig struct {
	ID       string  `koanf:"id" json:"id" validate:"required,max=64,excludes=/,ne=.,ne=.."`
	Name     string  `koanf:"name" json:"name"`
	RTSPURL  string  `koanf:"rtsp_url" json:"rtspUrl" validate:"required,url"`
	Lat      float64 `koanf:"lat" json:"lat" validate:"latitude"`
	Lon      float64 `koanf:"lon" json:"lon" validate:"longitude"`
	Alt      float64 `koanf:"alt" json:"alt"`
	Priority int     `koanf:"priority" json:"priority" validate:"omitempty,min=1,max=4"`
}

func (c CameraConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Streams starts and stops the transcoder behind a camera.
type Streams interface {
	StartStream(id, rtspURL, outputDir string) (string, error)
	StopStream(id string) bool
}

// Announcer publishes CoT events to the TAK network.
type Announcer interface {
	SendEvent(ev cot.Event) bool
}

// Snapshotter persists camera records outside the process.
type Snapshotter interface {
	SaveCamera(ctx context.Context, c Camera) error
	DeleteCamera(ctx context.Context, id string) error
}

// Options wires the registry to its collaborators. Store may be nil.
type Options struct {
	Streams   Streams
	Announcer Announcer
	Store     Snapshotter
	OutputDir string
	Logger    *slog.Logger
	Now       func() time.Time
}

type deviceEntry struct {
	device geo.Device
	stale  time.Time
}

// Registry is safe for concurrent use.
type Registry struct {
	opts   Options
	logger *slog.Logger

	mu      sync.RWMutex
	cameras map[string]*Camera
	devices map[string]deviceEntry
}

func New(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		opts:    opts,
		logger:  opts.Logger.With("component", "registry"),
		cameras: make(map[string]*Camera),
		devices: make(map[string]deviceEntry),
	}
}

// AnnounceUID is the CoT uid a camera is announced under.
func AnnounceUID(cameraID string) string { return announcePrefix + cameraID }

// -------------------------------------------------------------------
//                             CAMERAS
// -------------------------------------------------------------------

// RegisterCamera starts the camera's stream, announces it to TAK and stores
// it. A camera registered under an existing id replaces the previous one.
// When the stream cannot be started the camera is still stored, offline and
// unannounced, and the start error is returned with it.
func (r *Registry) RegisterCamera(ctx context.Context, cfg CameraConfig) (*Camera, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Priority == 0 {
		cfg.Priority = defaultPriority
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}

	cam := &Camera{
		ID:         cfg.ID,
		Name:       cfg.Name,
		RTSPURL:    cfg.RTSPURL,
		Position:   Position{Lat: cfg.Lat, Lon: cfg.Lon, Alt: cfg.Alt},
		Priority:   cfg.Priority,
		Status:     StatusOffline,
		LastUpdate: r.opts.Now().UTC(),
	}

	streamURL, startErr := r.opts.Streams.StartStream(cam.ID, cam.RTSPURL, r.opts.OutputDir)
	if startErr != nil {
		r.logger.Error("stream start failed", "camera", cam.ID, "err", startErr)
		startErr = fmt.Errorf("registry: start stream for %s: %w", cam.ID, startErr)
	} else {
		cam.StreamURL = streamURL
		cam.Status = StatusOnline
		if r.opts.Announcer != nil && !r.opts.Announcer.SendEvent(announceEvent(*cam)) {
			r.logger.Warn("camera announce not sent", "camera", cam.ID)
		}
	}

	r.mu.Lock()
	if _, exists := r.cameras[cam.ID]; exists {
		r.logger.Warn("replacing camera", "camera", cam.ID)
	}
	r.cameras[cam.ID] = cam
	n := len(r.cameras)
	out := *cam
	r.mu.Unlock()
	observability.CamerasRegistered.Set(float64(n))

	r.snapshot(ctx, out)
	r.logger.Info("camera registered", "camera", out.ID, "status", string(out.Status), "stream", out.StreamURL)
	return &out, startErr
}

// RemoveCamera stops the camera's stream and forgets it.
func (r *Registry) RemoveCamera(ctx context.Context, id string) error {
	r.mu.Lock()
	_, ok := r.cameras[id]
	delete(r.cameras, id)
	n := len(r.cameras)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	observability.CamerasRegistered.Set(float64(n))

	r.opts.Streams.StopStream(id)
	if r.opts.Store != nil {
		ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
		defer cancel()
		if err := r.opts.Store.DeleteCamera(ctx, id); err != nil {
			r.logger.Warn("camera snapshot not deleted", "camera", id, "err", err)
		}
	}
	r.logger.Info("camera removed", "camera", id)
	return nil
}

func (r *Registry) Camera(id string) (Camera, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cameras[id]
	if !ok {
		return Camera{}, false
	}
	return *c, true
}

// Cameras returns every camera ordered by id.
func (r *Registry) Cameras() []Camera {
	r.mu.RLock()
	out := make([]Camera, 0, len(r.cameras))
	for _, c := range r.cameras {
		out = append(out, *c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CamerasByPriority sorts by the declared tier, most important first. Ties
// keep id order.
func (r *Registry) CamerasByPriority() []Camera {
	out := r.Cameras()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

func (r *Registry) CamerasInArea(lat, lon, radiusKm float64) []Camera {
	return geo.InRadius(r.Cameras(), lat, lon, radiusKm)
}

// AnnounceAll re-sends the announcement of every online camera with a fresh
// stale time and returns how many were sent. Announcements expire after
// cot.EntityStale, so this runs on every TAK reconnect and periodically.
func (r *Registry) AnnounceAll() int {
	if r.opts.Announcer == nil {
		return 0
	}
	now := r.opts.Now().UTC()
	sent := 0
	for _, c := range r.Cameras() {
		if c.Status != StatusOnline {
			continue
		}
		c.LastUpdate = now
		if r.opts.Announcer.SendEvent(announceEvent(c)) {
			sent++
		}
	}
	return sent
}

func (r *Registry) snapshot(ctx context.Context, c Camera) {
	if r.opts.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()
	if err := r.opts.Store.SaveCamera(ctx, c); err != nil {
		r.logger.Warn("camera snapshot not saved", "camera", c.ID, "err", err)
	}
}

func announceEvent(c Camera) cot.Event {
	ev := cot.NewEntity(AnnounceUID(c.ID), cot.TypeSensorPoint, c.LastUpdate)
	ev.Point.Lat = c.Position.Lat
	ev.Point.Lon = c.Position.Lon
	ev.Point.HAE = c.Position.Alt
	ev.Detail = cot.Detail{
		Callsign: c.Name,
		VideoURL: c.StreamURL,
		Remarks:  "RTSP camera " + c.ID,
		Priority: c.Priority,
		Status:   string(c.Status),
	}
	return ev
}

// -------------------------------------------------------------------
//                             DEVICES
// -------------------------------------------------------------------

// HandleEvent records the sender of an inbound CoT event as a device. Pings
// and the announcements of this registry's own cameras are ignored. It
// reports whether the device table changed.
func (r *Registry) HandleEvent(ev cot.Event) bool {
	if strings.HasPrefix(ev.Type, "t-") || ev.UID == "" {
		return false
	}
	if !coordsValid(ev.Point.Lat, ev.Point.Lon) {
		r.logger.Debug("ignoring event with invalid position", "uid", ev.UID, "lat", ev.Point.Lat, "lon", ev.Point.Lon)
		return false
	}
	if id, ok := strings.CutPrefix(ev.UID, announcePrefix); ok {
		if _, own := r.Camera(id); own {
			return false
		}
	}

	d := geo.Device{
		ID:       ev.UID,
		Position: geo.Position{Lat: ev.Point.Lat, Lon: ev.Point.Lon},
		Status:   ev.Detail.Status,
		Battery:  ev.Detail.Battery,
		Group:    ev.Detail.Group,
	}
	if ev.Point.HAE != 0 {
		alt := ev.Point.HAE
		d.Position.Alt = &alt
	}
	if ev.Detail.Priority != 0 {
		p := ev.Detail.Priority
		d.Priority = &p
	}
	if d.Status == "" {
		d.Status = geo.StatusActive
	}

	r.mu.Lock()
	r.devices[d.ID] = deviceEntry{device: d, stale: ev.Stale}
	n := len(r.devices)
	r.mu.Unlock()
	observability.DevicesTracked.Set(float64(n))
	return true
}

func coordsValid(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Devices returns the devices whose last event has not gone stale, ordered
// by id. Stale devices are dropped.
func (r *Registry) Devices() []geo.Device {
	now := r.opts.Now()

	r.mu.Lock()
	out := make([]geo.Device, 0, len(r.devices))
	for id, e := range r.devices {
		if !e.stale.IsZero() && now.After(e.stale) {
			delete(r.devices, id)
			continue
		}
		out = append(out, e.device)
	}
	n := len(r.devices)
	r.mu.Unlock()
	observability.DevicesTracked.Set(float64(n))

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RankedDevices applies the display priority rules for the given viewer.
func (r *Registry) RankedDevices(c geo.Context) []geo.Ranked {
	return geo.FilterAndSortDevices(r.Devices(), c)
}

func (r *Registry) DevicesInArea(lat, lon, radiusKm float64) []geo.Device {
	return geo.DevicesInRadius(r.Devices(), lat, lon, radiusKm)
}
