package notify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/lalithlochan/digitagro/internal/db"
)

const (
	currency = "FCFA"

	fieldAmount = "amount"
	fieldRating = "rating"

	// Free text quoted inside a message is cut to this many characters.
	excerptLen = 50
)

// Related object types.
const (
	RelatedOrder          = "order"
	RelatedBulkOrder      = "bulk_order"
	RelatedPayment        = "payment"
	RelatedReview         = "review"
	RelatedMessage        = "message"
	RelatedTransport      = "transport"
	RelatedTransformation = "transformation"
	RelatedDelivery       = "delivery"
	RelatedRefund         = "refund"
	RelatedProduction     = "production"
	RelatedProduct        = "product"
)

// Party is a marketplace user as seen by the factory: who to notify and how to name them.
// Parties inside the business types below are optional on decode; the one a
// notification addresses is checked when it is created.
type Party struct {
	UserID int64  `json:"user_id" validate:"required,gt=0"`
	Name   string `json:"name" validate:"required"`
}

// Order is a retail order between a seller (producer or distributor) and a buyer.
type Order struct {
	ID       int64   `json:"id" validate:"gt=0"`
	Seller   Party   `json:"seller" validate:"omitempty"`
	Buyer    Party   `json:"buyer" validate:"omitempty"`
	Product  string  `json:"product"`
	Quantity float64 `json:"quantity" validate:"gte=0"`
	Total    float64 `json:"total" validate:"gte=0"`
}

// BulkOrder is a B2B order or price negotiation between a producer and a distributor.
type BulkOrder struct {
	ID          int64   `json:"id" validate:"gt=0"`
	Producer    Party   `json:"producer" validate:"omitempty"`
	Distributor Party   `json:"distributor" validate:"omitempty"`
	Product     string  `json:"product"`
	Quantity    float64 `json:"quantity" validate:"gte=0"`
	Total       float64 `json:"total" validate:"gte=0"`
}

// Payment is money moving to Recipient.
type Payment struct {
	ID        int64   `json:"id" validate:"gt=0"`
	Recipient Party   `json:"recipient" validate:"omitempty"`
	Amount    float64 `json:"amount" validate:"gte=0"`
	Method    string  `json:"method"`
}

// Review is a rating left by Author about Subject.
type Review struct {
	ID      int64  `json:"id" validate:"gt=0"`
	Subject Party  `json:"subject" validate:"omitempty"`
	Author  Party  `json:"author" validate:"omitempty"`
	Rating  int    `json:"rating" validate:"min=1,max=5"`
	Comment string `json:"comment"`
}

// Message is a direct message between two users.
type Message struct {
	ID        int64  `json:"id" validate:"gt=0"`
	Sender    Party  `json:"sender" validate:"omitempty"`
	Recipient Party  `json:"recipient" validate:"omitempty"`
	Content   string `json:"content"`
}

// Transport is a transport reservation tied to an order.
type Transport struct {
	ID          int64  `json:"id" validate:"gt=0"`
	OrderID     int64  `json:"order_id" validate:"gte=0"`
	Producer    Party  `json:"producer" validate:"omitempty"`
	Transporter Party  `json:"transporter" validate:"omitempty"`
	Client      Party  `json:"client" validate:"omitempty"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Departure   string `json:"departure"`
}

// Transformation is a processing request from a producer to a processor.
type Transformation struct {
	ID         int64   `json:"id" validate:"gt=0"`
	Producer   Party   `json:"producer" validate:"omitempty"`
	Processor  Party   `json:"processor" validate:"omitempty"`
	Kind       string  `json:"kind"`
	QuantityKg float64 `json:"quantity_kg" validate:"gte=0"`
}

// Delivery is the last leg of an order, carried by Transporter to Recipient.
type Delivery struct {
	ID          int64 `json:"id" validate:"gt=0"`
	Recipient   Party `json:"recipient" validate:"omitempty"`
	Transporter Party `json:"transporter" validate:"omitempty"`
}

// Refund is a buyer asking Seller for money back.
type Refund struct {
	ID     int64   `json:"id" validate:"gt=0"`
	Seller Party   `json:"seller" validate:"omitempty"`
	Amount float64 `json:"amount" validate:"gte=0"`
	Reason string  `json:"reason"`
}

// Listing is a product offered by Seller, either fresh production or distributor stock.
type Listing struct {
	ID        int64   `json:"id" validate:"gt=0"`
	Seller    Party   `json:"seller" validate:"omitempty"`
	Product   string  `json:"product" validate:"required"`
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
}

// Creator is the subset of *Service the factory uses.
type Creator interface {
	Create(ctx context.Context, spec Spec) (*db.Notification, error)
	CreateAll(ctx context.Context, specs []Spec) ([]*db.Notification, error)
}

// Factory builds notifications for business actions with consistent wording.
type Factory struct {
	creator Creator
}

// NewFactory creates a factory writing through creator.
func NewFactory(creator Creator) *Factory {
	return &Factory{creator: creator}
}

func (f *Factory) create(ctx context.Context, to Party, kind Kind, title, message string, rel *Related, data map[string]any) (*db.Notification, error) {
	return f.creator.Create(ctx, spec(to, kind, title, message, rel, data))
}

func spec(to Party, kind Kind, title, message string, rel *Related, data map[string]any) Spec {
	return Spec{
		RecipientID: to.UserID,
		Kind:        kind,
		Title:       title,
		Message:     message,
		Related:     rel,
		Data:        data,
	}
}

// Producer

func (f *Factory) ProducerNewOrder(ctx context.Context, o Order) (*db.Notification, error) {
	return f.create(ctx, o.Seller, KindNewOrder, "Nouvelle commande reçue",
		fmt.Sprintf("%s - %s %s", o.Buyer.Name, number(o.Quantity), o.Product),
		&Related{RelatedOrder, o.ID},
		map[string]any{"order_id": o.ID, fieldAmount: o.Total})
}

func (f *Factory) ProducerPayment(ctx context.Context, o Order) (*db.Notification, error) {
	return f.create(ctx, o.Seller, KindPaymentReceived, "Paiement reçu",
		money(o.Total)+" reçu",
		&Related{RelatedOrder, o.ID},
		map[string]any{fieldAmount: o.Total})
}

func (f *Factory) ProducerShipmentConfirmed(ctx context.Context, o Order) (*db.Notification, error) {
	return f.create(ctx, o.Seller, KindProductShipped, "Expédition confirmée",
		fmt.Sprintf("Commande #%d expédiée", o.ID),
		&Related{RelatedOrder, o.ID}, nil)
}

func (f *Factory) ProducerProcessorPayment(ctx context.Context, p Payment) (*db.Notification, error) {
	return f.create(ctx, p.Recipient, KindPaymentReceived, "Paiement transformateur reçu",
		money(p.Amount)+" reçu",
		&Related{RelatedPayment, p.ID},
		map[string]any{fieldAmount: p.Amount})
}

func (f *Factory) TransformationStatus(ctx context.Context, t Transformation, accepted bool) (*db.Notification, error) {
	title := "Transformation refusée"
	if accepted {
		title = "Transformation acceptée"
	}
	return f.create(ctx, t.Producer, KindTransformationRequest, title,
		"Demande transformation "+t.Kind,
		&Related{RelatedTransformation, t.ID},
		map[string]any{"accepted": accepted})
}

func (f *Factory) ProductsReady(ctx context.Context, t Transformation) (*db.Notification, error) {
	return f.create(ctx, t.Producer, KindTransformationCompleted, "Produits transformés prêts",
		fmt.Sprintf("Transformation %s terminée", t.Kind),
		&Related{RelatedTransformation, t.ID}, nil)
}

func (f *Factory) TransportScheduled(ctx context.Context, t Transport) (*db.Notification, error) {
	return f.create(ctx, t.Producer, KindTransportStarted, "Transport programmé",
		"Livraison vers "+t.Destination,
		&Related{RelatedTransport, t.ID}, nil)
}

func (f *Factory) ProducerDeliveryCompleted(ctx context.Context, t Transport) (*db.Notification, error) {
	return f.create(ctx, t.Producer, KindDeliveryCompleted, "Livraison effectuée",
		fmt.Sprintf("Commande #%d livrée", t.OrderID),
		&Related{RelatedTransport, t.ID}, nil)
}

func (f *Factory) PriceNegotiation(ctx context.Context, b BulkOrder) (*db.Notification, error) {
	return f.create(ctx, b.Producer, KindBulkOrder, "Négociation prix initiée",
		"Distributeur: "+b.Distributor.Name,
		&Related{RelatedBulkOrder, b.ID}, nil)
}

func (f *Factory) ProducerBulkOrder(ctx context.Context, b BulkOrder) (*db.Notification, error) {
	return f.create(ctx, b.Producer, KindBulkOrder, "Commande en gros confirmée",
		fmt.Sprintf("%s unités - %s", number(b.Quantity), money(b.Total)),
		&Related{RelatedBulkOrder, b.ID},
		map[string]any{fieldAmount: b.Total})
}

// Transporter

func (f *Factory) TransporterNewRequest(ctx context.Context, t Transport) (*db.Notification, error) {
	return f.create(ctx, t.Transporter, KindTransportRequest, "Nouvelle demande transport",
		fmt.Sprintf("%s → %s", t.Origin, t.Destination),
		&Related{RelatedTransport, t.ID}, nil)
}

func (f *Factory) TransporterReservationConfirmed(ctx context.Context, t Transport) (*db.Notification, error) {
	return f.create(ctx, t.Transporter, KindTransportConfirmed, "Réservation confirmée",
		"Client: "+t.Client.Name,
		&Related{RelatedTransport, t.ID}, nil)
}

func (f *Factory) TransporterPayment(ctx context.Context, p Payment) (*db.Notification, error) {
	return f.create(ctx, p.Recipient, KindPaymentReceived, "Paiement reçu",
		fmt.Sprintf("%s - %s", money(p.Amount), p.Method),
		&Related{RelatedPayment, p.ID},
		map[string]any{fieldAmount: p.Amount, "type": p.Method})
}

func (f *Factory) TransportStartRequested(ctx context.Context, t Transport) (*db.Notification, error) {
	return f.create(ctx, t.Transporter, KindTransportStarted, "Début trajet demandé",
		"Départ prévu: "+t.Departure,
		&Related{RelatedTransport, t.ID}, nil)
}

func (f *Factory) TransporterDeliveryConfirmed(ctx context.Context, d Delivery) (*db.Notification, error) {
	return f.create(ctx, d.Transporter, KindDeliveryCompleted, "Livraison confirmée",
		"Destinataire: "+d.Recipient.Name,
		&Related{RelatedDelivery, d.ID}, nil)
}

// Processor

func (f *Factory) ProcessorNewRequest(ctx context.Context, t Transformation) (*db.Notification, error) {
	return f.create(ctx, t.Processor, KindTransformationRequest, "Nouvelle demande",
		fmt.Sprintf("%s - %skg", t.Kind, number(t.QuantityKg)),
		&Related{RelatedTransformation, t.ID}, nil)
}

func (f *Factory) ProcessorAdvancePayment(ctx context.Context, p Payment) (*db.Notification, error) {
	return f.payment(ctx, p, "Avance reçue")
}

func (f *Factory) ProcessorFinalPayment(ctx context.Context, p Payment) (*db.Notification, error) {
	return f.payment(ctx, p, "Paiement final reçu")
}

func (f *Factory) ProcessorProductsReceived(ctx context.Context, t Transformation) (*db.Notification, error) {
	return f.create(ctx, t.Processor, KindProductsReady, "Produits bruts reçus",
		fmt.Sprintf("%skg - %s", number(t.QuantityKg), t.Kind),
		&Related{RelatedTransformation, t.ID}, nil)
}

func (f *Factory) ProcessorTransformationCompleted(ctx context.Context, t Transformation) (*db.Notification, error) {
	return f.create(ctx, t.Processor, KindTransformationCompleted, "Transformation terminée",
		"Produits prêts à livrer",
		&Related{RelatedTransformation, t.ID}, nil)
}

// Distributor

func (f *Factory) DistributorOrderConfirmed(ctx context.Context, b BulkOrder) (*db.Notification, error) {
	return f.create(ctx, b.Distributor, KindOrderConfirmed, "Commande confirmée",
		fmt.Sprintf("%s - %s", b.Product, number(b.Quantity)),
		&Related{RelatedBulkOrder, b.ID}, nil)
}

func (f *Factory) DistributorPaymentProcessed(ctx context.Context, p Payment) (*db.Notification, error) {
	return f.payment(ctx, p, "Paiement traité")
}

// DeliveryInProgress tells the recipient of a delivery, consumer or distributor,
// who is carrying it.
func (f *Factory) DeliveryInProgress(ctx context.Context, d Delivery) (*db.Notification, error) {
	return f.create(ctx, d.Recipient, KindProductShipped, "Livraison en cours",
		"Transporteur: "+d.Transporter.Name,
		&Related{RelatedDelivery, d.ID}, nil)
}

func (f *Factory) DistributorGoodsReceived(ctx context.Context, distributor Party, receptionID int64) (*db.Notification, error) {
	return f.create(ctx, distributor, KindStockUpdated, "Marchandise reçue",
		"Stock mis à jour",
		&Related{RelatedDelivery, receptionID}, nil)
}

func (f *Factory) DistributorConsumerOrder(ctx context.Context, o Order) (*db.Notification, error) {
	return f.create(ctx, o.Seller, KindNewOrder, "Nouvelle commande",
		fmt.Sprintf("%s - %s", o.Buyer.Name, money(o.Total)),
		&Related{RelatedOrder, o.ID},
		map[string]any{fieldAmount: o.Total})
}

func (f *Factory) DistributorConsumerPayment(ctx context.Context, p Payment) (*db.Notification, error) {
	return f.payment(ctx, p, "Paiement consommateur")
}

// Consumer

func (f *Factory) ConsumerNewProduction(ctx context.Context, to Party, l Listing) (*db.Notification, error) {
	return f.create(ctx, to, KindNewOrder, "Nouvelle production",
		fmt.Sprintf("%s disponible - %s", l.Product, money(l.UnitPrice)),
		&Related{RelatedProduction, l.ID}, nil)
}

func (f *Factory) ConsumerOrderConfirmed(ctx context.Context, o Order) (*db.Notification, error) {
	return f.create(ctx, o.Buyer, KindOrderConfirmed, "Commande confirmée",
		fmt.Sprintf("Commande #%d confirmée", o.ID),
		&Related{RelatedOrder, o.ID}, nil)
}

func (f *Factory) ConsumerPaymentValidated(ctx context.Context, p Payment) (*db.Notification, error) {
	return f.payment(ctx, p, "Paiement validé")
}

func (f *Factory) ConsumerProductShipped(ctx context.Context, o Order) (*db.Notification, error) {
	return f.create(ctx, o.Buyer, KindProductShipped, "Produit expédié",
		fmt.Sprintf("Commande #%d", o.ID),
		&Related{RelatedOrder, o.ID}, nil)
}

func (f *Factory) ConsumerDeliveryCompleted(ctx context.Context, d Delivery) (*db.Notification, error) {
	return f.create(ctx, d.Recipient, KindDeliveryCompleted, "Livraison effectuée",
		"Votre commande est arrivée",
		&Related{RelatedDelivery, d.ID}, nil)
}

func (f *Factory) ConsumerTransportReserved(ctx context.Context, t Transport) (*db.Notification, error) {
	return f.create(ctx, t.Client, KindTransportConfirmed, "Transport réservé",
		fmt.Sprintf("%s → %s", t.Origin, t.Destination),
		&Related{RelatedTransport, t.ID}, nil)
}

// TransportPosition reports the carrier's last known coordinates to the client.
func (f *Factory) TransportPosition(ctx context.Context, t Transport, lat, lng float64) (*db.Notification, error) {
	return f.create(ctx, t.Client, KindTransportStarted, "Position mise à jour",
		fmt.Sprintf("Lat: %s, Lng: %s", number(lat), number(lng)),
		&Related{RelatedTransport, t.ID},
		map[string]any{"latitude": lat, "longitude": lng})
}

func (f *Factory) ArrivalImminent(ctx context.Context, t Transport) (*db.Notification, error) {
	return f.create(ctx, t.Client, KindTransportArrived, "Arrivée imminente",
		"Le transporteur arrive dans 10 minutes",
		&Related{RelatedTransport, t.ID}, nil)
}

func (f *Factory) TransportArrived(ctx context.Context, t Transport) (*db.Notification, error) {
	return f.create(ctx, t.Client, KindTransportArrived, "Transport arrivé",
		"Votre livraison est arrivée",
		&Related{RelatedTransport, t.ID}, nil)
}

func (f *Factory) ProductAvailable(ctx context.Context, to Party, l Listing) (*db.Notification, error) {
	return f.create(ctx, to, KindNewOrder, "Produit disponible",
		fmt.Sprintf("%s chez %s", l.Product, l.Seller.Name),
		&Related{RelatedProduct, l.ID}, nil)
}

func (f *Factory) ConsumerDistributorOrderConfirmed(ctx context.Context, o Order) (*db.Notification, error) {
	return f.create(ctx, o.Buyer, KindOrderConfirmed, "Commande confirmée",
		"Distributeur: "+o.Seller.Name,
		&Related{RelatedOrder, o.ID}, nil)
}

// Any role

// NewReview notifies the reviewed user. Empty comments leave just the rating.
func (f *Factory) NewReview(ctx context.Context, r Review) (*db.Notification, error) {
	message := fmt.Sprintf("%d/5", r.Rating)
	if r.Comment != "" {
		message += " - " + excerpt(r.Comment)
	}
	return f.create(ctx, r.Subject, KindNewReview, "Nouvelle évaluation", message,
		&Related{RelatedReview, r.ID},
		map[string]any{fieldRating: r.Rating})
}

func (f *Factory) ReviewPublished(ctx context.Context, r Review) (*db.Notification, error) {
	return f.create(ctx, r.Author, KindNewReview, "Évaluation publiée",
		fmt.Sprintf("Votre note: %d/5", r.Rating),
		&Related{RelatedReview, r.ID}, nil)
}

func (f *Factory) ReviewReminder(ctx context.Context, user, target Party, role string) (*db.Notification, error) {
	return f.create(ctx, user, KindNewReview, "Évaluation en attente",
		fmt.Sprintf("Évaluez %s (%s)", target.Name, role),
		nil,
		map[string]any{"target_user_id": target.UserID, "role": role})
}

func (f *Factory) NewMessage(ctx context.Context, m Message) (*db.Notification, error) {
	return f.create(ctx, m.Recipient, KindNewMessage, "Nouveau message",
		fmt.Sprintf("%s: %s", m.Sender.Name, excerpt(m.Content)),
		&Related{RelatedMessage, m.ID}, nil)
}

func (f *Factory) MessageRead(ctx context.Context, m Message) (*db.Notification, error) {
	return f.create(ctx, m.Sender, KindNewMessage, "Message lu",
		m.Recipient.Name+" a lu votre message",
		&Related{RelatedMessage, m.ID}, nil)
}

// NewDeviceLogin records a login from an unknown device; device info is kept as payload.
func (f *Factory) NewDeviceLogin(ctx context.Context, user Party, device map[string]any) (*db.Notification, error) {
	name, _ := device["device"].(string)
	if name == "" {
		name = "appareil inconnu"
	}
	return f.create(ctx, user, KindNewDevice, "Nouvelle connexion",
		"Connexion depuis "+name, nil, device)
}

func (f *Factory) SuspiciousLogin(ctx context.Context, user Party, attempt map[string]any) (*db.Notification, error) {
	ip, _ := attempt["ip"].(string)
	if ip == "" {
		ip = "IP inconnue"
	}
	return f.create(ctx, user, KindNewDevice, "Connexion suspecte",
		"Tentative depuis "+ip, nil, attempt)
}

func (f *Factory) PasswordChanged(ctx context.Context, user Party) (*db.Notification, error) {
	return f.create(ctx, user, KindPasswordChanged, "Mot de passe modifié",
		"Votre mot de passe a été changé", nil, nil)
}

func (f *Factory) ProfileIncomplete(ctx context.Context, user Party) (*db.Notification, error) {
	return f.create(ctx, user, KindProfileIncomplete, "Profil incomplet",
		"Veuillez compléter votre profil", nil, nil)
}

func (f *Factory) PaymentMethodAdded(ctx context.Context, user Party, method string) (*db.Notification, error) {
	return f.create(ctx, user, KindPaymentReceived, "Moyen de paiement ajouté",
		method+" configuré", nil,
		map[string]any{"method": method})
}

// Anomalies

func (f *Factory) DeliveryDelayed(ctx context.Context, d Delivery, delayMinutes int) (*db.Notification, error) {
	return f.create(ctx, d.Recipient, KindDeliveryDelayed, "Retard de livraison",
		fmt.Sprintf("Retard estimé: %d minutes", delayMinutes),
		&Related{RelatedDelivery, d.ID},
		map[string]any{"delay": delayMinutes})
}

func (f *Factory) GPSInterrupted(ctx context.Context, t Transport) (*db.Notification, error) {
	return f.create(ctx, t.Client, KindDeliveryDelayed, "Géolocalisation interrompue",
		"Suivi GPS temporairement indisponible",
		&Related{RelatedTransport, t.ID}, nil)
}

func (f *Factory) OrderUnconfirmed(ctx context.Context, o Order) (*db.Notification, error) {
	return f.create(ctx, o.Seller, KindDeliveryDelayed, "Commande en attente",
		fmt.Sprintf("Commande #%d non confirmée depuis 24h", o.ID),
		&Related{RelatedOrder, o.ID}, nil)
}

func (f *Factory) PaymentPending(ctx context.Context, p Payment) (*db.Notification, error) {
	return f.create(ctx, p.Recipient, KindPaymentReceived, "Paiement en attente",
		money(p.Amount)+" en validation",
		&Related{RelatedPayment, p.ID},
		map[string]any{fieldAmount: p.Amount})
}

// OrderCancelled notifies the seller and the buyer of a cancellation, except
// whichever of them cancelled it. The notices are stored in one write, so a
// failure leaves none behind.
func (f *Factory) OrderCancelled(ctx context.Context, o Order, by Party) ([]*db.Notification, error) {
	var specs []Spec
	for _, to := range []Party{o.Seller, o.Buyer} {
		if to.UserID == by.UserID {
			continue
		}
		specs = append(specs, spec(to, KindOrderCancelled, "Commande annulée",
			"Annulée par "+by.Name,
			&Related{RelatedOrder, o.ID}, nil))
	}
	if len(specs) == 0 {
		return []*db.Notification{}, nil
	}
	return f.creator.CreateAll(ctx, specs)
}

func (f *Factory) RefundRequested(ctx context.Context, r Refund) (*db.Notification, error) {
	return f.create(ctx, r.Seller, KindRefundRequested, "Demande de remboursement",
		fmt.Sprintf("%s - Motif: %s", money(r.Amount), r.Reason),
		&Related{RelatedRefund, r.ID},
		map[string]any{fieldAmount: r.Amount})
}

func (f *Factory) payment(ctx context.Context, p Payment, title string) (*db.Notification, error) {
	return f.create(ctx, p.Recipient, KindPaymentReceived, title, money(p.Amount),
		&Related{RelatedPayment, p.ID},
		map[string]any{fieldAmount: p.Amount})
}

func money(amount float64) string {
	return number(amount) + " " + currency
}

func number(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func excerpt(s string) string {
	r := []rune(s)
	if len(r) <= excerptLen {
		return s
	}
	return string(r[:excerptLen])
}
