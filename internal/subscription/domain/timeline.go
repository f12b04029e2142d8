package domain

import (
	"context"
	"fmt"

	catalogdomain "github.com/nsiitk/killbill/internal/catalog/domain"
)

// RebuildTransitions replays the active event set into the transition list.
// UNCANCEL events are tombstones that only deactivate a prior CANCEL; they
// carry no state of their own and are dropped before folding. Events whose
// version lags the subscription's active version were superseded by a repair
// and are likewise skipped. The result depends only on (effectiveDate,
// totalOrdering) order, never on physical insertion order.
func (s *Subscription) RebuildTransitions(ctx context.Context, events []Event, cat catalogdomain.Catalog) error {
	active := make([]Event, 0, len(events))
	for _, e := range events {
		if !e.Active || e.UserType == UserEventUncancel {
			continue
		}
		if e.CurrentVersion != s.ActiveVersion {
			continue
		}
		active = append(active, e)
	}
	SortEvents(active)

	prevState := StatePending
	var prevPlan, prevPhase, prevPriceList string

	transitions := make([]Transition, 0, len(active))
	for _, e := range active {
		nextState := prevState
		nextPlan, nextPhase, nextPriceList := prevPlan, prevPhase, prevPriceList

		switch e.EventType {
		case EventTypePhase:
			nextPhase = e.PhaseName

		case EventTypeAPIUser:
			switch e.UserType {
			case UserEventCreate, UserEventReCreate, UserEventTransfer, UserEventMigrateEntitlement:
				nextState = StateActive
				nextPlan = e.PlanName
				nextPhase = e.PhaseName
				nextPriceList = e.PriceListName

			case UserEventChange, UserEventMigrateBilling:
				nextPlan = e.PlanName
				nextPhase = e.PhaseName
				nextPriceList = e.PriceListName

			case UserEventCancel:
				nextState = StateCancelled

			default:
				return fmt.Errorf("unknown user event type %q on event %d", e.UserType, e.ID)
			}

		default:
			return fmt.Errorf("unknown event type %q on event %d", e.EventType, e.ID)
		}

		// Events written before phase names were snapshotted resolve the
		// phase in effect from the catalog.
		if nextPhase == "" && nextPlan != "" {
			plan, err := cat.FindPlan(ctx, nextPlan, e.EffectiveDate)
			if err != nil {
				return err
			}
			nextPhase = plan.PhaseAsOf(s.AlignStartDate(plan), e.EffectiveDate).Name
		}

		transitions = append(transitions, Transition{
			EventID:           e.ID,
			TotalOrdering:     e.TotalOrdering,
			EventType:         e.EventType,
			UserType:          e.UserType,
			EffectiveDate:     e.EffectiveDate,
			RequestedDate:     e.RequestedDate,
			PreviousState:     prevState,
			NextState:         nextState,
			PreviousPlan:      prevPlan,
			NextPlan:          nextPlan,
			PreviousPhase:     prevPhase,
			NextPhase:         nextPhase,
			PreviousPriceList: prevPriceList,
			NextPriceList:     nextPriceList,
			Synthetic:         e.Synthetic,
		})

		prevState, prevPlan, prevPhase, prevPriceList = nextState, nextPlan, nextPhase, nextPriceList
	}

	s.Events = active
	s.Transitions = transitions
	return nil
}
