package mockdata

import "github.com/ashita-ai/mamori/internal/model"

var merchantTemplates = []model.Merchant{
	{StoreName: "TechGadgets Pro", StoreSlug: "techgadgets-pro", Email: "support@techgadgets.com", Status: "active", MigrationStatus: "completed", MigrationStage: 100},
	{StoreName: "Fashion Forward", StoreSlug: "fashion-forward", Email: "help@fashionforward.io", Status: "active", MigrationStatus: "in_progress", MigrationStage: 75},
	{StoreName: "Home & Living", StoreSlug: "home-living", Email: "contact@homeliving.store", Status: "migrating", MigrationStatus: "in_progress", MigrationStage: 45},
	{StoreName: "Sports Elite", StoreSlug: "sports-elite", Email: "team@sportselite.com", Status: "active", MigrationStatus: "completed", MigrationStage: 100},
	{StoreName: "Organic Foods Co", StoreSlug: "organic-foods", Email: "hello@organicfoods.co", Status: "onboarding", MigrationStatus: "not_started", MigrationStage: 0},
	{StoreName: "Digital Downloads", StoreSlug: "digital-downloads", Email: "support@digitaldownloads.net", Status: "active", MigrationStatus: "completed", MigrationStage: 100},
	{StoreName: "Pet Paradise", StoreSlug: "pet-paradise", Email: "woof@petparadise.shop", Status: "migrating", MigrationStatus: "in_progress", MigrationStage: 60},
	{StoreName: "Artisan Crafts", StoreSlug: "artisan-crafts", Email: "create@artisancrafts.com", Status: "active", MigrationStatus: "completed", MigrationStage: 100},
}

type ticketTemplate struct {
	subject, body, category, priority string
}

var ticketTemplates = []ticketTemplate{
	// Migration.
	{"Checkout not working after migration", "After completing the migration to headless, our checkout is completely broken. Customers can add items to cart but get a 500 error when trying to pay.", "checkout", model.PriorityUrgent},
	{"API returns 401 on all requests", "Since switching to the new headless API, all our requests return 401 Unauthorized even though we set up the API keys correctly.", "api", model.PriorityHigh},
	{"Webhooks stopped working", "Our order webhooks were working fine before migration but now we dont receive any webhook calls. Orders are coming through but our fulfillment system isnt getting notified.", "webhook", model.PriorityHigh},
	{"Product images not loading", "After migration, none of our product images are loading on the storefront. The URLs seem different than before.", "migration", model.PriorityMedium},
	{"How to configure webhooks in headless?", "I cannot find documentation on how to set up webhooks for the new headless platform. Where do I configure these?", "webhook", model.PriorityLow},

	// Checkout and payments.
	{"Payment failed but order created", "Customer was charged on Stripe but the order shows as failed in our dashboard. This has happened 3 times today.", "payment", model.PriorityUrgent},
	{"Stripe connection lost", `Getting "Stripe not connected" error when customers try to checkout. Was working yesterday.`, "payment", model.PriorityUrgent},
	{"Cart total mismatch", "The cart total shown to customers doesnt match what we receive in the order. Discounts seem to not be applying correctly.", "checkout", model.PriorityHigh},

	// API.
	{"Rate limiting errors", "We are getting 429 Too Many Requests errors during peak hours. Our traffic hasnt increased.", "api", model.PriorityMedium},
	{"Slow API responses", "API responses that used to take 200ms are now taking 3-5 seconds. This is affecting our page load times.", "api", model.PriorityHigh},
	{"Product sync failing", "The product sync API keeps timing out when we try to update our catalog of 10,000 products.", "api", model.PriorityMedium},

	// General.
	{"Need documentation for inventory API", "Looking for docs on how to use the inventory management API. Cant find it in the developer portal.", "general", model.PriorityLow},
	{"Feature request: bulk order export", "Would be great to have a bulk export option for orders. Currently can only export one at a time.", "general", model.PriorityLow},
}

type apiErrorTemplate struct {
	endpoint, method string
	status           int
	message          string
}

var apiErrorTemplates = []apiErrorTemplate{
	{"/api/v2/checkout/create", "POST", 500, "Internal server error: database connection timeout"},
	{"/api/v2/products", "GET", 401, "Invalid or expired API key"},
	{"/api/v2/orders", "POST", 400, "Invalid shipping address format"},
	{"/api/v2/webhooks/register", "POST", 422, "Webhook URL not reachable"},
	{"/api/v2/inventory/update", "PUT", 504, "Gateway timeout"},
	{"/api/v2/cart/add", "POST", 500, "Failed to calculate tax"},
	{"/api/v2/checkout/confirm", "POST", 402, "Payment declined"},
}

type webhookTemplate struct {
	event, lastError string
}

var webhookTemplates = []webhookTemplate{
	{"order.created", "Connection refused: ECONNREFUSED"},
	{"order.fulfilled", "SSL certificate error"},
	{"payment.captured", "Endpoint returned 500"},
	{"inventory.updated", "Request timeout after 30s"},
	{"customer.created", "Invalid response format"},
}

type checkoutTemplate struct {
	reason, code string
}

var checkoutTemplates = []checkoutTemplate{
	{"Payment declined by card issuer", "card_declined"},
	{"Insufficient funds", "insufficient_funds"},
	{"Card expired", "expired_card"},
	{"Stripe API error: rate limit exceeded", "rate_limit"},
	{"Invalid shipping address", "invalid_address"},
	{"Cart validation failed: product out of stock", "out_of_stock"},
	{"Tax calculation service unavailable", "tax_service_error"},
}

var (
	ticketStatuses = []string{model.TicketOpen, model.TicketOpen, model.TicketOpen, model.TicketInProgress, "waiting"}
	ticketSources  = []string{"email", "email", "chat", "phone"}
)
