package location

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
)

// ErrVehicleNotInFeed is returned when the feed has no position for the vehicle
var ErrVehicleNotInFeed = errors.New("vehicle not in feed")

// FeedProvider reads the rider's train position from a GTFS-Realtime
// VehiclePositions feed. It lets a device without its own fix follow a
// train that broadcasts its position.
type FeedProvider struct {
	url       string
	vehicleID string
	client    *http.Client
	now       func() time.Time

	mu         sync.Mutex
	last       *Sample
	receivedAt time.Time
}

// NewFeedProvider creates a provider for the vehicle with the given ID or label
func NewFeedProvider(url, vehicleID string) *FeedProvider {
	return &FeedProvider{
		url:       url,
		vehicleID: vehicleID,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		now: time.Now,
	}
}

// CurrentSample fetches the feed and extracts the vehicle's position
func (p *FeedProvider) CurrentSample(ctx context.Context, _ AccuracyHint) (Sample, error) {
	feed, err := p.fetchFeed(ctx)
	if err != nil {
		return Sample{}, err
	}

	sample, err := p.findVehicle(feed)
	if err != nil {
		return Sample{}, err
	}

	p.mu.Lock()
	p.last = &sample
	p.receivedAt = p.now()
	p.mu.Unlock()

	return sample, nil
}

// LastKnownSample returns the last extracted position if it was received
// within maxAge. Feed timestamps lag the poll, so age counts from receipt.
func (p *FeedProvider) LastKnownSample(_ context.Context, maxAge time.Duration) (*Sample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.last == nil || p.now().Sub(p.receivedAt) > maxAge {
		return nil, nil
	}
	s := *p.last
	return &s, nil
}

// PermissionStatus is always granted; the feed is public data
func (p *FeedProvider) PermissionStatus(context.Context) PermissionStatus {
	return PermissionGranted
}

func (p *FeedProvider) findVehicle(feed *gtfs.FeedMessage) (Sample, error) {
	for _, entity := range feed.Entity {
		if entity.Vehicle == nil || entity.Vehicle.Position == nil {
			continue
		}
		vehicle := entity.Vehicle

		if !p.matches(vehicle) {
			continue
		}

		pos := vehicle.Position
		sample := Sample{
			Latitude:  float64(pos.GetLatitude()),
			Longitude: float64(pos.GetLongitude()),
			Speed:     float64(pos.GetSpeed()),
		}

		switch {
		case vehicle.Timestamp != nil:
			sample.Timestamp = time.Unix(int64(*vehicle.Timestamp), 0).UTC()
		case feed.Header != nil && feed.Header.Timestamp != nil:
			sample.Timestamp = time.Unix(int64(*feed.Header.Timestamp), 0).UTC()
		default:
			sample.Timestamp = p.now().UTC()
		}

		return sample, nil
	}

	return Sample{}, fmt.Errorf("%w: %s", ErrVehicleNotInFeed, p.vehicleID)
}

func (p *FeedProvider) matches(vehicle *gtfs.VehiclePosition) bool {
	if vehicle.Vehicle == nil {
		return false
	}
	if vehicle.Vehicle.GetId() == p.vehicleID {
		return true
	}
	// Labels look like "R4-77626-PLATF.(1)"; match on the train number part too
	label := strings.ToUpper(vehicle.Vehicle.GetLabel())
	want := strings.ToUpper(p.vehicleID)
	return label != "" && (label == want || strings.HasPrefix(label, want+"-"))
}

// fetchFeed fetches and decodes the GTFS-RT feed
func (p *FeedProvider) fetchFeed(ctx context.Context) (*gtfs.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	feed := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(body, feed); err != nil {
		return nil, fmt.Errorf("failed to parse protobuf: %w", err)
	}

	return feed, nil
}
