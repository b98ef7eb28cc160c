package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"
)

// maxResponseBytes bounds how much of a bridge response is read.
// Even large installations stay well under this.
const maxResponseBytes = 4 << 20

// Client is the real-bridge SnapshotSource. It speaks the bridge's
// HTTP REST API.
//
// Lights and sensors are fetched fresh on every GetSnapshot call.
// Rooms change rarely and are cached per bridge address with a short
// TTL to bound load on the bridge.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	http     *http.Client
	roomsTTL time.Duration

	roomsMu sync.Mutex
	rooms   map[string]roomsCacheEntry
}

// roomsCacheEntry is a cached rooms listing for one bridge address.
type roomsCacheEntry struct {
	rooms     []Room
	fetchedAt time.Time
}

// NewClient creates a bridge client. fetchTimeout bounds every request;
// roomsTTL controls how long the rooms listing is cached.
func NewClient(fetchTimeout, roomsTTL time.Duration) *Client {
	return &Client{
		http:     &http.Client{Timeout: fetchTimeout},
		roomsTTL: roomsTTL,
		rooms:    make(map[string]roomsCacheEntry),
	}
}

// GetSnapshot fetches the current full state from the bridge.
// It implements SnapshotSource.
func (c *Client) GetSnapshot(ctx context.Context, bridgeAddress, cred string) (*Snapshot, error) {
	var wireLights map[string]wireLight
	if err := c.getResource(ctx, bridgeAddress, cred, "lights", &wireLights); err != nil {
		return nil, err
	}

	var wireSensors map[string]wireSensor
	if err := c.getResource(ctx, bridgeAddress, cred, "sensors", &wireSensors); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Lights:      make(map[string]Light, len(wireLights)),
		MotionZones: make(map[string]MotionZone),
		FetchedAt:   time.Now().UTC(),
	}
	for id, wl := range wireLights {
		snap.Lights[id] = wl.toLight(id)
	}
	assembleMotionZones(snap, wireSensors)

	return snap, nil
}

// assembleMotionZones builds motion zones from the sensor listing.
// Each presence sensor becomes a zone; a temperature reading from a
// companion sensor on the same physical device is merged in.
func assembleMotionZones(snap *Snapshot, sensors map[string]wireSensor) {
	// Temperature readings by physical device, for the merge below.
	temps := make(map[string]float64)
	for _, ws := range sensors {
		if ws.Type == sensorTypeTemperature && ws.State.Temperature != nil {
			temps[deviceIDPrefix(ws.UniqueID)] = float64(*ws.State.Temperature) / 100.0
		}
	}

	for id, ws := range sensors {
		if ws.Type != sensorTypePresence {
			continue
		}
		zone := MotionZone{
			ID:   id,
			Name: ws.Name,
		}
		if ws.State.Presence != nil {
			zone.Presence = *ws.State.Presence
		}
		if ws.Config.Battery != nil {
			zone.Battery = *ws.Config.Battery
		}
		if ws.Config.Reachable != nil {
			zone.Reachable = *ws.Config.Reachable
		}
		if t, ok := temps[deviceIDPrefix(ws.UniqueID)]; ok {
			zone.Temperature = t
		}
		snap.MotionZones[id] = zone
	}
}

// GetRooms returns the rooms defined on the bridge, served from the TTL
// cache when fresh.
func (c *Client) GetRooms(ctx context.Context, bridgeAddress, cred string) ([]Room, error) {
	c.roomsMu.Lock()
	entry, ok := c.rooms[bridgeAddress]
	c.roomsMu.Unlock()
	if ok && time.Since(entry.fetchedAt) < c.roomsTTL {
		return entry.rooms, nil
	}

	var wireGroups map[string]wireGroup
	if err := c.getResource(ctx, bridgeAddress, cred, "groups", &wireGroups); err != nil {
		return nil, err
	}

	rooms := make([]Room, 0, len(wireGroups))
	for id, wg := range wireGroups {
		if wg.Type != "Room" && wg.Type != "Zone" {
			continue
		}
		rooms = append(rooms, Room{
			ID:       id,
			Name:     wg.Name,
			LightIDs: wg.Lights,
			AllOn:    wg.State.AllOn,
			AnyOn:    wg.State.AnyOn,
		})
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })

	c.roomsMu.Lock()
	c.rooms[bridgeAddress] = roomsCacheEntry{rooms: rooms, fetchedAt: time.Now()}
	c.roomsMu.Unlock()

	return rooms, nil
}

// Pair performs the press-link-button pairing handshake and returns the
// credential minted by the bridge.
func (c *Client) Pair(ctx context.Context, bridgeAddress, deviceType string) (string, error) {
	body, err := json.Marshal(map[string]string{"devicetype": deviceType})
	if err != nil {
		return "", fmt.Errorf("encoding pairing request: %w", err)
	}

	url := fmt.Sprintf("http://%s/api", bridgeAddress)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building pairing request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: reading pairing response: %w", ErrUnreachable, err)
	}

	var results []wireResult
	if err := json.Unmarshal(data, &results); err != nil {
		return "", fmt.Errorf("%w: %w", ErrBadResponse, err)
	}

	for _, r := range results {
		if r.Error != nil {
			if r.Error.Type == wireErrLinkButtonPressed {
				return "", ErrLinkButtonNotPressed
			}
			return "", fmt.Errorf("%w: %s", ErrBadResponse, r.Error.Description)
		}
		if username, ok := r.Success["username"].(string); ok {
			return username, nil
		}
	}

	return "", fmt.Errorf("%w: pairing response missing username", ErrBadResponse)
}

// getResource fetches /api/<cred>/<resource> and decodes it into v.
//
// The bridge signals errors (including auth rejection) as a JSON array
// with HTTP 200, so the body shape is inspected before decoding.
func (c *Client) getResource(ctx context.Context, bridgeAddress, cred, resource string, v any) error {
	url := fmt.Sprintf("http://%s/api/%s/%s", bridgeAddress, cred, resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building %s request: %w", resource, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d fetching %s", ErrUnreachable, resp.StatusCode, resource)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: reading %s response: %w", ErrUnreachable, resource, err)
	}

	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		return classifyAPIError(trimmed)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decoding %s: %w", ErrBadResponse, resource, err)
	}
	return nil
}

// classifyAPIError maps a bridge error array onto the package error
// taxonomy.
func classifyAPIError(data []byte) error {
	var results []wireResult
	if err := json.Unmarshal(data, &results); err != nil {
		return fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	for _, r := range results {
		if r.Error == nil {
			continue
		}
		if r.Error.Type == wireErrUnauthorized {
			return fmt.Errorf("%w: %s", ErrAuthRejected, r.Error.Description)
		}
		return fmt.Errorf("%w: %s", ErrBadResponse, r.Error.Description)
	}
	return fmt.Errorf("%w: empty error response", ErrBadResponse)
}
