package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/lalithlochan/digitagro/internal/db"
)

// ErrActionBody is returned when an action runs with a body it did not create.
var ErrActionBody = errors.New("body does not match action")

// Decision is a processor's answer to a transformation request.
type Decision struct {
	Transformation Transformation `json:"transformation"`
	Accepted       bool           `json:"accepted"`
}

// Reception is goods entering a distributor's stock.
type Reception struct {
	ID          int64 `json:"id" validate:"gt=0"`
	Distributor Party `json:"distributor" validate:"required"`
}

// ListingAlert offers a listing to one consumer.
type ListingAlert struct {
	Consumer Party   `json:"consumer" validate:"required"`
	Listing  Listing `json:"listing"`
}

// PositionUpdate is a carrier's position during a transport.
type PositionUpdate struct {
	Transport Transport `json:"transport"`
	Latitude  float64   `json:"latitude" validate:"latitude"`
	Longitude float64   `json:"longitude" validate:"longitude"`
}

// PendingReview reminds User to rate Target in the given role.
type PendingReview struct {
	User   Party  `json:"user" validate:"required"`
	Target Party  `json:"target" validate:"required"`
	Role   string `json:"role" validate:"required"`
}

// LoginAttempt is a sign-in worth telling the account owner about.
type LoginAttempt struct {
	User    Party          `json:"user" validate:"required"`
	Details map[string]any `json:"details"`
}

// Account addresses a notice about the user's own account.
type Account struct {
	User Party `json:"user" validate:"required"`
}

// PaymentMethod is a payment method added to an account.
type PaymentMethod struct {
	User   Party  `json:"user" validate:"required"`
	Method string `json:"method" validate:"required"`
}

// Delay is a late delivery with its estimated delay.
type Delay struct {
	Delivery Delivery `json:"delivery"`
	Minutes  int      `json:"delay_minutes" validate:"gte=0"`
}

// Cancellation is an order cancelled by one party.
type Cancellation struct {
	Order       Order `json:"order"`
	CancelledBy Party `json:"cancelled_by" validate:"required"`
}

// Action is a named business action with the body it is announced with.
type Action struct {
	name    string
	newBody func() any
	run     func(ctx context.Context, f *Factory, body any) ([]*db.Notification, error)
}

// Name returns the action's registered name.
func (a Action) Name() string { return a.name }

// Body returns a pointer to a fresh body to decode the action's payload into.
func (a Action) Body() any { return a.newBody() }

// Announce runs a with a body obtained from a.Body.
func (f *Factory) Announce(ctx context.Context, a Action, body any) ([]*db.Notification, error) {
	return a.run(ctx, f, body)
}

// LookupAction returns the action registered under name.
func LookupAction(name string) (Action, bool) {
	a, ok := actions[name]
	if ok {
		a.name = name
	}
	return a, ok
}

// ActionNames lists every registered action, sorted.
func ActionNames() []string {
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func one[T any](fn func(*Factory, context.Context, T) (*db.Notification, error)) Action {
	return many(func(f *Factory, ctx context.Context, body T) ([]*db.Notification, error) {
		n, err := fn(f, ctx, body)
		if err != nil {
			return nil, err
		}
		return []*db.Notification{n}, nil
	})
}

func many[T any](fn func(*Factory, context.Context, T) ([]*db.Notification, error)) Action {
	return Action{
		newBody: func() any { return new(T) },
		run: func(ctx context.Context, f *Factory, body any) ([]*db.Notification, error) {
			b, ok := body.(*T)
			if !ok {
				return nil, fmt.Errorf("%w: %T", ErrActionBody, body)
			}
			return fn(f, ctx, *b)
		},
	}
}

var actions = map[string]Action{
	// producer
	"producer_new_order":          one((*Factory).ProducerNewOrder),
	"producer_payment":            one((*Factory).ProducerPayment),
	"producer_shipment_confirmed": one((*Factory).ProducerShipmentConfirmed),
	"producer_processor_payment":  one((*Factory).ProducerProcessorPayment),
	"transformation_status": one(func(f *Factory, ctx context.Context, d Decision) (*db.Notification, error) {
		return f.TransformationStatus(ctx, d.Transformation, d.Accepted)
	}),
	"products_ready":              one((*Factory).ProductsReady),
	"transport_scheduled":         one((*Factory).TransportScheduled),
	"producer_delivery_completed": one((*Factory).ProducerDeliveryCompleted),
	"price_negotiation":           one((*Factory).PriceNegotiation),
	"producer_bulk_order":         one((*Factory).ProducerBulkOrder),

	// transporter
	"transporter_new_request":           one((*Factory).TransporterNewRequest),
	"transporter_reservation_confirmed": one((*Factory).TransporterReservationConfirmed),
	"transporter_payment":               one((*Factory).TransporterPayment),
	"transport_start_requested":         one((*Factory).TransportStartRequested),
	"transporter_delivery_confirmed":    one((*Factory).TransporterDeliveryConfirmed),

	// processor
	"processor_new_request":              one((*Factory).ProcessorNewRequest),
	"processor_advance_payment":          one((*Factory).ProcessorAdvancePayment),
	"processor_products_received":        one((*Factory).ProcessorProductsReceived),
	"processor_transformation_completed": one((*Factory).ProcessorTransformationCompleted),
	"processor_final_payment":            one((*Factory).ProcessorFinalPayment),

	// distributor
	"distributor_order_confirmed":   one((*Factory).DistributorOrderConfirmed),
	"distributor_payment_processed": one((*Factory).DistributorPaymentProcessed),
	"delivery_in_progress":          one((*Factory).DeliveryInProgress),
	"distributor_goods_received": one(func(f *Factory, ctx context.Context, r Reception) (*db.Notification, error) {
		return f.DistributorGoodsReceived(ctx, r.Distributor, r.ID)
	}),
	"distributor_consumer_order":   one((*Factory).DistributorConsumerOrder),
	"distributor_consumer_payment": one((*Factory).DistributorConsumerPayment),

	// consumer
	"consumer_new_production": one(func(f *Factory, ctx context.Context, a ListingAlert) (*db.Notification, error) {
		return f.ConsumerNewProduction(ctx, a.Consumer, a.Listing)
	}),
	"consumer_order_confirmed":    one((*Factory).ConsumerOrderConfirmed),
	"consumer_payment_validated":  one((*Factory).ConsumerPaymentValidated),
	"consumer_product_shipped":    one((*Factory).ConsumerProductShipped),
	"consumer_delivery_completed": one((*Factory).ConsumerDeliveryCompleted),
	"consumer_transport_reserved": one((*Factory).ConsumerTransportReserved),
	"transport_position": one(func(f *Factory, ctx context.Context, p PositionUpdate) (*db.Notification, error) {
		return f.TransportPosition(ctx, p.Transport, p.Latitude, p.Longitude)
	}),
	"arrival_imminent":  one((*Factory).ArrivalImminent),
	"transport_arrived": one((*Factory).TransportArrived),
	"product_available": one(func(f *Factory, ctx context.Context, a ListingAlert) (*db.Notification, error) {
		return f.ProductAvailable(ctx, a.Consumer, a.Listing)
	}),
	"consumer_distributor_order_confirmed": one((*Factory).ConsumerDistributorOrderConfirmed),

	// any role
	"new_review":       one((*Factory).NewReview),
	"review_published": one((*Factory).ReviewPublished),
	"review_reminder": one(func(f *Factory, ctx context.Context, p PendingReview) (*db.Notification, error) {
		return f.ReviewReminder(ctx, p.User, p.Target, p.Role)
	}),
	"new_message":  one((*Factory).NewMessage),
	"message_read": one((*Factory).MessageRead),
	"new_device_login": one(func(f *Factory, ctx context.Context, l LoginAttempt) (*db.Notification, error) {
		return f.NewDeviceLogin(ctx, l.User, l.Details)
	}),
	"suspicious_login": one(func(f *Factory, ctx context.Context, l LoginAttempt) (*db.Notification, error) {
		return f.SuspiciousLogin(ctx, l.User, l.Details)
	}),
	"password_changed": one(func(f *Factory, ctx context.Context, a Account) (*db.Notification, error) {
		return f.PasswordChanged(ctx, a.User)
	}),
	"profile_incomplete": one(func(f *Factory, ctx context.Context, a Account) (*db.Notification, error) {
		return f.ProfileIncomplete(ctx, a.User)
	}),
	"payment_method_added": one(func(f *Factory, ctx context.Context, p PaymentMethod) (*db.Notification, error) {
		return f.PaymentMethodAdded(ctx, p.User, p.Method)
	}),

	// anomalies
	"delivery_delayed": one(func(f *Factory, ctx context.Context, d Delay) (*db.Notification, error) {
		return f.DeliveryDelayed(ctx, d.Delivery, d.Minutes)
	}),
	"gps_interrupted":   one((*Factory).GPSInterrupted),
	"order_unconfirmed": one((*Factory).OrderUnconfirmed),
	"payment_pending":   one((*Factory).PaymentPending),
	"order_cancelled": many(func(f *Factory, ctx context.Context, c Cancellation) ([]*db.Notification, error) {
		return f.OrderCancelled(ctx, c.Order, c.CancelledBy)
	}),
	"refund_requested": one((*Factory).RefundRequested),
}
