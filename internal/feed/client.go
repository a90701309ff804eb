// Package feed is the HTTP adapter for the upstream provider: it serves the
// syncer's NotificationSource, StructureInfoSource and MoonResolver needs
// against a configured JSON API.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"moonmining-backend/config"
	"moonmining-backend/internal/model"
	"moonmining-backend/internal/parse"
	"moonmining-backend/internal/store"
	"moonmining-backend/internal/syncer"
)

// notificationItem models one record of the feed's notification listing.
type notificationItem struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// structureItem models the feed's structure detail response.
type structureItem struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	OwnerID       int64   `json:"owner_id"`
	SolarSystemID int64   `json:"solar_system_id"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	Z             float64 `json:"z"`
}

// moonItem models the feed's nearest-moon response.
type moonItem struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// oreTypeItem models the feed's ore catalog response.
type oreTypeItem struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	GroupID      int64   `json:"group_id"`
	UnitVolume   float64 `json:"unit_volume"`
	QualityValue *int    `json:"quality_value"`
	Materials    []struct {
		MaterialTypeID int64 `json:"material_type_id"`
		Quantity       int64 `json:"quantity"`
	} `json:"materials"`
}

// priceItem models one entry of the feed's market price listing.
type priceItem struct {
	TypeID       int64           `json:"type_id"`
	AveragePrice decimal.Decimal `json:"average_price"`
}

// Client talks to the upstream feed. 5xx responses and transport errors are
// wrapped with syncer.ErrTransient so the caller's retry policy can tell
// them apart from hard misses like a 404.
type Client struct {
	baseURL string
	headers map[string]string
	store   store.Store
	client  *http.Client
	log     *zap.SugaredLogger
}

// NewClient creates a feed client from configuration. Known moons are served
// from the local store; only unknown ones hit the provider.
func NewClient(cfg *config.FeedConfig, s store.Store, log *zap.SugaredLogger) *Client {
	var transport http.RoundTripper = &http.Transport{}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			log.Warnw("invalid proxy URL, feed client will not use a proxy",
				"proxy", cfg.HTTPProxy, "error", err)
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	return &Client{
		baseURL: cfg.BaseURL,
		headers: cfg.Headers,
		store:   s,
		client: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		log: log,
	}
}

// FetchSince implements syncer.NotificationSource.
func (c *Client) FetchSince(ctx context.Context, corporationID int64, since time.Time) ([]parse.Notification, error) {
	q := url.Values{}
	q.Set("corporation_id", strconv.FormatInt(corporationID, 10))
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}

	var items []notificationItem
	if err := c.getJSON(ctx, "/notifications?"+q.Encode(), &items); err != nil {
		return nil, err
	}

	notifications := make([]parse.Notification, 0, len(items))
	for _, item := range items {
		notifications = append(notifications, parse.Notification{
			ID:        item.ID,
			Type:      item.Type,
			Timestamp: item.Timestamp,
			Text:      item.Text,
		})
	}
	return notifications, nil
}

// StructureInfo implements syncer.StructureInfoSource.
func (c *Client) StructureInfo(ctx context.Context, structureID int64) (*syncer.StructureInfo, error) {
	var item structureItem
	if err := c.getJSON(ctx, "/structures/"+strconv.FormatInt(structureID, 10), &item); err != nil {
		return nil, err
	}
	return &syncer.StructureInfo{
		ID:            item.ID,
		Name:          item.Name,
		OwnerID:       item.OwnerID,
		SolarSystemID: item.SolarSystemID,
		X:             item.X,
		Y:             item.Y,
		Z:             item.Z,
	}, nil
}

// NearestMoon implements syncer.MoonResolver. The provider does the geometry;
// the resulting moon is persisted locally so the next resolution is a cheap
// store lookup via LinkRefineryMoon.
func (c *Client) NearestMoon(ctx context.Context, solarSystemID int64, x, y, z float64) (*model.Moon, error) {
	q := url.Values{}
	q.Set("solar_system_id", strconv.FormatInt(solarSystemID, 10))
	q.Set("x", strconv.FormatFloat(x, 'f', -1, 64))
	q.Set("y", strconv.FormatFloat(y, 'f', -1, 64))
	q.Set("z", strconv.FormatFloat(z, 'f', -1, 64))

	var item moonItem
	err := c.getJSON(ctx, "/moons/nearest?"+q.Encode(), &item)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	moon, err := c.store.GetOrCreateMoon(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	if moon.Name == "" && item.Name != "" {
		if err := c.store.DB().WithContext(ctx).Model(moon).
			Update("name", item.Name).Error; err != nil {
			return nil, err
		}
		moon.Name = item.Name
	}
	return moon, nil
}

// OreType implements syncer.OreTypeSource.
func (c *Client) OreType(ctx context.Context, typeID int64) (*model.OreType, error) {
	var item oreTypeItem
	if err := c.getJSON(ctx, "/types/"+strconv.FormatInt(typeID, 10), &item); err != nil {
		return nil, err
	}

	ore := &model.OreType{
		ID:           item.ID,
		Name:         item.Name,
		GroupID:      item.GroupID,
		UnitVolume:   item.UnitVolume,
		QualityValue: item.QualityValue,
	}
	for _, material := range item.Materials {
		ore.Materials = append(ore.Materials, model.OreTypeMaterial{
			MaterialTypeID: material.MaterialTypeID,
			Quantity:       material.Quantity,
		})
	}
	return ore, nil
}

// MarketPrices implements syncer.MarketPriceSource.
func (c *Client) MarketPrices(ctx context.Context) ([]model.MarketPrice, error) {
	var items []priceItem
	if err := c.getJSON(ctx, "/markets/prices", &items); err != nil {
		return nil, err
	}

	prices := make([]model.MarketPrice, 0, len(items))
	for _, item := range items {
		prices = append(prices, model.MarketPrice{
			TypeID:       item.TypeID,
			AveragePrice: item.AveragePrice,
		})
	}
	return prices, nil
}

// errNotFound marks a clean 404 from the provider.
var errNotFound = errors.New("not found")

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", syncer.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d from %s", syncer.ErrTransient, resp.StatusCode, path)
	default:
		return fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
