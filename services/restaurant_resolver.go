package services

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/qr-table-ordering/cache"
	"github.com/yeremiapane/qr-table-ordering/utils"
)

type restaurantRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Subdomain string `json:"subdomain"`
}

// RestaurantResolver finds the restaurant an order belongs to: the explicit
// id when the client has one, otherwise the directory entry for the tenant
// subdomain.
type RestaurantResolver struct {
	api   *APIClient
	store cache.Store
	ttl   time.Duration
	log   logrus.FieldLogger
}

func NewRestaurantResolver(api *APIClient, store cache.Store, ttl time.Duration, log logrus.FieldLogger) *RestaurantResolver {
	if store == nil {
		store = cache.NewMemoryStore()
	}
	if log == nil {
		log = utils.InfoLogger
	}
	return &RestaurantResolver{api: api, store: store, ttl: ttl, log: log}
}

// Resolve returns explicit when set. Otherwise it looks up subdomain, or the
// tenant carried by ctx when subdomain is empty.
func (r *RestaurantResolver) Resolve(ctx context.Context, explicit, subdomain string) (string, error) {
	const op = "restaurant.resolve"
	if id := strings.TrimSpace(explicit); id != "" {
		return id, nil
	}
	if subdomain == "" {
		subdomain = r.api.subdomain(ctx)
	}
	if subdomain == "" {
		return "", &utils.ClientError{Op: op, Kind: utils.ErrRestaurantNotResolved, Message: "restaurant not resolved"}
	}

	key := "restaurant:subdomain:" + subdomain
	if id, found, err := r.store.Get(ctx, key); err != nil {
		r.log.WithError(err).Warn("restaurant cache read failed")
	} else if found {
		return id, nil
	}

	var rec restaurantRecord
	if err := r.api.get(WithTenant(ctx, subdomain), op, "/restaurants/subdomain/"+url.PathEscape(subdomain), &rec); err != nil {
		return "", &utils.ClientError{Op: op, Kind: utils.ErrRestaurantNotResolved, Message: "restaurant not resolved", Err: err}
	}
	if rec.ID == "" {
		return "", &utils.ClientError{Op: op, Kind: utils.ErrRestaurantNotResolved, Message: "restaurant not resolved"}
	}

	if err := r.store.Set(ctx, key, rec.ID, r.ttl); err != nil {
		r.log.WithError(err).Warn("restaurant cache write failed")
	}
	return rec.ID, nil
}
