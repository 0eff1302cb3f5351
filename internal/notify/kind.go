// Package notify turns marketplace business actions into durable notifications
// and hands single-path creations to the fan-out dispatcher.
package notify

// Kind is the closed set of notification categories.
type Kind string

const (
	KindNewOrder                Kind = "new_order"
	KindPaymentReceived         Kind = "payment_received"
	KindOrderConfirmed          Kind = "order_confirmed"
	KindProductShipped          Kind = "product_shipped"
	KindDeliveryCompleted       Kind = "delivery_completed"
	KindNewReview               Kind = "new_review"
	KindTransportRequest        Kind = "transport_request"
	KindTransportConfirmed      Kind = "transport_confirmed"
	KindTransportStarted        Kind = "transport_started"
	KindTransportArrived        Kind = "transport_arrived"
	KindTransformationRequest   Kind = "transformation_request"
	KindTransformationCompleted Kind = "transformation_completed"
	KindProductsReady           Kind = "products_ready"
	KindStockUpdated            Kind = "stock_updated"
	KindBulkOrder               Kind = "bulk_order"
	KindNewMessage              Kind = "new_message"
	KindNewDevice               Kind = "new_device"
	KindPasswordChanged         Kind = "password_changed"
	KindProfileIncomplete       Kind = "profile_incomplete"
	KindDeliveryDelayed         Kind = "delivery_delayed"
	KindOrderCancelled          Kind = "order_cancelled"
	KindRefundRequested         Kind = "refund_requested"
)

// DefaultIcon is shown for kinds that have no label, e.g. rows written by an older release.
const DefaultIcon = "🔔"

var icons = map[Kind]string{
	KindNewOrder:                "📋 Nouvelle commande",
	KindPaymentReceived:         "💰 Paiement reçu",
	KindOrderConfirmed:          "✅ Commande confirmée",
	KindProductShipped:          "📦 Produit expédié",
	KindDeliveryCompleted:       "✅ Livraison effectuée",
	KindNewReview:               "⭐ Nouvelle évaluation",
	KindTransportRequest:        "🚚 Demande de transport",
	KindTransportConfirmed:      "✅ Transport confirmé",
	KindTransportStarted:        "📍 Transport démarré",
	KindTransportArrived:        "🎯 Transport arrivé",
	KindTransformationRequest:   "🏭 Demande transformation",
	KindTransformationCompleted: "✅ Transformation terminée",
	KindProductsReady:           "📦 Produits prêts",
	KindStockUpdated:            "📦 Stock mis à jour",
	KindBulkOrder:               "💼 Commande en gros",
	KindNewMessage:              "💬 Nouveau message",
	KindNewDevice:               "🔒 Nouvelle connexion",
	KindPasswordChanged:         "🔑 Mot de passe modifié",
	KindProfileIncomplete:       "⚠️ Profil incomplet",
	KindDeliveryDelayed:         "⚠️ Retard livraison",
	KindOrderCancelled:          "❌ Commande annulée",
	KindRefundRequested:         "💰 Remboursement demandé",
}

// Valid reports whether k belongs to the enumeration.
func (k Kind) Valid() bool {
	_, ok := icons[k]
	return ok
}

// Icon returns the display label for k, or DefaultIcon for unknown kinds.
func (k Kind) Icon() string {
	if icon, ok := icons[k]; ok {
		return icon
	}
	return DefaultIcon
}

// Kinds lists every valid kind.
func Kinds() []Kind {
	out := make([]Kind, 0, len(icons))
	for k := range icons {
		out = append(out, k)
	}
	return out
}
