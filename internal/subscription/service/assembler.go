package service

import (
	"context"
	"sort"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	catalogdomain "github.com/nsiitk/killbill/internal/catalog/domain"
	subscriptiondomain "github.com/nsiitk/killbill/internal/subscription/domain"
)

// sortBaseFirst orders a bundle's subscriptions base-first so the base
// timeline is known before add-ons are assembled.
func sortBaseFirst(subs []subscriptiondomain.Subscription) {
	sort.SliceStable(subs, func(i, j int) bool {
		iBase := subs[i].Category == catalogdomain.ProductCategoryBase
		jBase := subs[j].Category == catalogdomain.ProductCategoryBase
		if iBase != jBase {
			return iBase
		}
		return subs[i].ID < subs[j].ID
	})
}

func (s *Service) GetSubscription(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	sub, err := s.repo.FindSubscriptionByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}

	// Add-on timelines depend on the base, so the whole bundle is assembled
	// even for a single lookup.
	subs, err := s.repo.ListSubscriptionsByBundle(ctx, s.db, sub.BundleID)
	if err != nil {
		return nil, err
	}
	built, err := s.buildBundleSubscriptions(ctx, s.db, subs)
	if err != nil {
		return nil, err
	}
	for _, b := range built {
		if b.ID == id {
			return b, nil
		}
	}
	return nil, subscriptiondomain.ErrSubscriptionNotFound
}

func (s *Service) GetBundleSubscriptions(ctx context.Context, bundleID snowflake.ID) ([]*subscriptiondomain.Subscription, error) {
	bundle, err := s.repo.FindBundleByID(ctx, s.db, bundleID)
	if err != nil {
		return nil, err
	}
	if bundle == nil {
		return nil, subscriptiondomain.ErrBundleNotFound
	}
	subs, err := s.repo.ListSubscriptionsByBundle(ctx, s.db, bundleID)
	if err != nil {
		return nil, err
	}
	return s.buildBundleSubscriptions(ctx, s.db, subs)
}

// buildBundleSubscriptions replays every subscription of a bundle and welds
// add-on timelines to the base: a pending base CANCEL or CHANGE that dooms an
// add-on shows up in the add-on's timeline as a synthetic cancellation, even
// though no such row exists yet.
func (s *Service) buildBundleSubscriptions(ctx context.Context, db *gorm.DB, rows []subscriptiondomain.Subscription) ([]*subscriptiondomain.Subscription, error) {
	now := s.clock.Now(ctx)
	sortBaseFirst(rows)

	var futureBaseEvent *subscriptiondomain.Event
	out := make([]*subscriptiondomain.Subscription, 0, len(rows))
	for i := range rows {
		sub := rows[i]
		if err := s.rebuild(ctx, db, &sub); err != nil {
			return nil, err
		}

		switch sub.Category {
		case catalogdomain.ProductCategoryBase:
			futureBaseEvent = sub.FutureUserEvent(now, subscriptiondomain.UserEventCancel, subscriptiondomain.UserEventChange)

		case catalogdomain.ProductCategoryAddOn:
			if futureBaseEvent == nil || sub.State(now) == subscriptiondomain.StateCancelled || sub.FutureEndDate(now) != nil {
				break
			}
			implied, err := s.addons.ImpliedCancel(ctx, futureBaseEvent, &sub, sub.CurrentPlan(now), now)
			if err != nil {
				return nil, err
			}
			if implied != nil {
				implied.ID = s.genID.Generate()
				all := make([]subscriptiondomain.Event, 0, len(sub.Events)+1)
				all = append(all, sub.Events...)
				all = append(all, *implied)
				if err := sub.RebuildTransitions(ctx, all, s.catalog); err != nil {
					return nil, err
				}
			}
		}
		out = append(out, &sub)
	}
	return out, nil
}

// GetDryRunChangePlanStatus previews which add-ons a base plan change would
// cancel, without writing anything.
func (s *Service) GetDryRunChangePlanStatus(ctx context.Context, req subscriptiondomain.DryRunChangePlanRequest) ([]subscriptiondomain.AddOnChangeStatus, error) {
	now := s.clock.Now(ctx)
	effective := orNow(req.EffectiveDate, now)

	sub, err := s.repo.FindSubscriptionByID(ctx, s.db, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	if sub.Category != catalogdomain.ProductCategoryBase {
		return nil, nil
	}

	target, err := s.catalog.ResolvePlan(ctx, req.Spec, effective)
	if err != nil {
		return nil, err
	}

	subs, err := s.repo.ListSubscriptionsByBundle(ctx, s.db, sub.BundleID)
	if err != nil {
		return nil, err
	}

	var statuses []subscriptiondomain.AddOnChangeStatus
	for i := range subs {
		if subs[i].Category != catalogdomain.ProductCategoryAddOn {
			continue
		}
		addOn := subs[i]
		if err := s.rebuild(ctx, s.db, &addOn); err != nil {
			return nil, err
		}
		if addOn.State(now) == subscriptiondomain.StateCancelled {
			continue
		}

		plan, err := s.catalog.FindPlan(ctx, addOn.CurrentPlan(now), now)
		if err != nil {
			return nil, err
		}
		reason, doomed, err := s.addons.Status(ctx, plan.Product, effective, target.Name)
		if err != nil {
			return nil, err
		}
		if doomed {
			statuses = append(statuses, subscriptiondomain.AddOnChangeStatus{
				SubscriptionID: addOn.ID,
				Product:        plan.Product,
				Reason:         reason,
			})
		}
	}
	return statuses, nil
}
