package api

import (
	"log"
	"net/http"
	"strings"

	"github.com/example/atelier-shop/internal/api/middleware"
	"github.com/example/atelier-shop/internal/auth"
)

func NewRouter(handlers *Handlers, tokens *auth.Service) http.Handler {
	mux := http.NewServeMux()

	requireAuth := middleware.Auth(tokens)
	optionalAuth := middleware.OptionalAuth(tokens)
	requireAdmin := func(h http.HandlerFunc) http.Handler {
		return requireAuth(middleware.RequireRole(auth.RoleAdmin)(h))
	}

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		handlers.Login(w, r)
	})

	// Products. Browsing is public but picks up claims when a token is
	// present; create and delete are admin-only.
	mux.HandleFunc("/products", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			optionalAuth(http.HandlerFunc(handlers.GetProducts)).ServeHTTP(w, r)
		case http.MethodPost:
			requireAdmin(handlers.CreateProduct).ServeHTTP(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/products/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			optionalAuth(http.HandlerFunc(handlers.GetProduct)).ServeHTTP(w, r)
		case http.MethodDelete:
			requireAdmin(handlers.DeleteProduct).ServeHTTP(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Cart
	mux.Handle("/cart", requireAuth(methodHandler(map[string]http.HandlerFunc{
		http.MethodGet: handlers.GetCart,
	})))

	mux.Handle("/cart/items", requireAuth(methodHandler(map[string]http.HandlerFunc{
		http.MethodPost: handlers.AddToCart,
	})))

	mux.Handle("/cart/items/", requireAuth(methodHandler(map[string]http.HandlerFunc{
		http.MethodDelete: handlers.RemoveFromCart,
	})))

	// Checkout
	mux.Handle("/checkout", requireAuth(methodHandler(map[string]http.HandlerFunc{
		http.MethodPost: handlers.Checkout,
	})))

	mux.Handle("/checkout/intent", requireAuth(methodHandler(map[string]http.HandlerFunc{
		http.MethodPost: handlers.CreatePaymentIntent,
	})))

	// Orders
	mux.Handle("/orders", requireAuth(methodHandler(map[string]http.HandlerFunc{
		http.MethodGet: handlers.GetOrders,
	})))

	mux.Handle("/orders/", requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case strings.HasSuffix(path, "/cancel-request") && r.Method == http.MethodPost:
			handlers.RequestCancel(w, r)
		case strings.HasSuffix(path, "/return-request") && r.Method == http.MethodPost:
			handlers.RequestReturn(w, r)
		case r.Method == http.MethodGet:
			handlers.GetOrder(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})))

	// Admin order actions
	mux.Handle("/admin/orders", requireAdmin(handlers.GetAllOrders))

	adminActions := map[string]http.HandlerFunc{
		"/cancel":        handlers.AdminCancel,
		"/reject-cancel": handlers.RejectCancel,
		"/accept-return": handlers.AcceptReturn,
		"/reject-return": handlers.RejectReturn,
		"/refund-return": handlers.RefundReturn,
		"/ready":         handlers.MarkReady,
		"/sync-tracking": handlers.SyncTracking,
	}
	mux.Handle("/admin/orders/", requireAdmin(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		for suffix, fn := range adminActions {
			if strings.HasSuffix(r.URL.Path, suffix) {
				fn(w, r)
				return
			}
		}
		http.Error(w, "Not found", http.StatusNotFound)
	}))

	// Carrier webhook authenticates by signature, not by token.
	mux.HandleFunc("/webhooks/carrier", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		handlers.CarrierWebhook(w, r)
	})

	return withLogging(mux)
}

func methodHandler(routes map[string]http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fn, ok := routes[r.Method]; ok {
			fn(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[API] %s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
