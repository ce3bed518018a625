package gamification

import "github.com/gorilla/mux"

// RegisterRoutes registers the user endpoints on the protected subrouter.
func (h *Handler) RegisterRoutes(protected *mux.Router) {
	protected.HandleFunc("/points-exchange/user-points", h.GetUserPoints).Methods("GET")
	protected.HandleFunc("/points-exchange/points-records", h.ListPointsRecords).Methods("GET")
	protected.HandleFunc("/points-exchange/categories", h.ListProductCategories).Methods("GET")
	protected.HandleFunc("/points-exchange/products", h.ListProducts).Methods("GET")
	protected.HandleFunc("/points-exchange/products/{id:[0-9]+}", h.GetProduct).Methods("GET")
	protected.HandleFunc("/points-exchange/products/{id:[0-9]+}/exchange", h.ExchangeProduct).Methods("POST")
	protected.HandleFunc("/points-exchange/exchange-records", h.ListExchangeRecords).Methods("GET")

	protected.HandleFunc("/achievements", h.ListAchievements).Methods("GET")
	protected.HandleFunc("/achievements/categories", h.ListAchievementCategories).Methods("GET")
}

// RegisterRoutes registers the admin endpoints on a subrouter that is
// already gated by RequireAdmin.
func (h *AdminHandler) RegisterRoutes(admin *mux.Router) {
	admin.HandleFunc("/points-rules", h.ListPointsRules).Methods("GET")
	admin.HandleFunc("/points-rules", h.CreatePointsRule).Methods("POST")
	admin.HandleFunc("/points-rules/{id:[0-9]+}", h.GetPointsRule).Methods("GET")
	admin.HandleFunc("/points-rules/{id:[0-9]+}", h.UpdatePointsRule).Methods("PUT")
	admin.HandleFunc("/points-rules/{id:[0-9]+}", h.DeletePointsRule).Methods("DELETE")

	admin.HandleFunc("/achievements", h.ListAchievements).Methods("GET")
	admin.HandleFunc("/achievements", h.CreateAchievement).Methods("POST")
	admin.HandleFunc("/achievements/{id:[0-9]+}", h.GetAchievement).Methods("GET")
	admin.HandleFunc("/achievements/{id:[0-9]+}", h.UpdateAchievement).Methods("PUT")
	admin.HandleFunc("/achievements/{id:[0-9]+}", h.DeleteAchievement).Methods("DELETE")

	admin.HandleFunc("/achievement-categories", h.ListAchievementCategories).Methods("GET")
	admin.HandleFunc("/achievement-categories", h.CreateAchievementCategory).Methods("POST")
	admin.HandleFunc("/achievement-categories/{id:[0-9]+}", h.UpdateAchievementCategory).Methods("PUT")
	admin.HandleFunc("/achievement-categories/{id:[0-9]+}", h.DeleteAchievementCategory).Methods("DELETE")

	admin.HandleFunc("/products", h.ListProducts).Methods("GET")
	admin.HandleFunc("/products", h.CreateProduct).Methods("POST")
	admin.HandleFunc("/products/{id:[0-9]+}", h.GetProduct).Methods("GET")
	admin.HandleFunc("/products/{id:[0-9]+}", h.UpdateProduct).Methods("PUT")
	admin.HandleFunc("/products/{id:[0-9]+}", h.DeleteProduct).Methods("DELETE")

	admin.HandleFunc("/product-categories", h.ListProductCategories).Methods("GET")
	admin.HandleFunc("/product-categories", h.CreateProductCategory).Methods("POST")
	admin.HandleFunc("/product-categories/{id:[0-9]+}", h.UpdateProductCategory).Methods("PUT")
	admin.HandleFunc("/product-categories/{id:[0-9]+}", h.DeleteProductCategory).Methods("DELETE")

	admin.HandleFunc("/exchange-approval/records", h.ListExchangeRecords).Methods("GET")
	admin.HandleFunc("/exchange-approval/records/{id:[0-9]+}/approve", h.ApproveExchange).Methods("POST")
}
