package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"fleamarket/internal/actions"
	"fleamarket/internal/auth"
	"fleamarket/internal/models"
	listingService "fleamarket/internal/services/listing"
)

// ErrActionNotOffered is returned when the viewer asks for a button or a
// transaction step the item does not offer them right now.
var ErrActionNotOffered = errors.New("action is not available")

type APIHandler struct {
	authService    *auth.Service
	listingService *listingService.ListingService
	basePath       string
}

// ActionView is a resolved button as sent to the client
type ActionView struct {
	Kind     actions.Kind     `json:"kind"`
	Label    string           `json:"label"`
	Disabled bool             `json:"disabled"`
	Tooltip  *actions.Tooltip `json:"tooltip,omitempty"`
	Method   string           `json:"method,omitempty"`
	Href     string           `json:"href,omitempty"`
}

// StepView links the next transaction step the viewer can take
type StepView struct {
	Step   string `json:"step"`
	Method string `json:"method"`
	Href   string `json:"href"`
}

type TransactionResponse struct {
	*listingService.TransactionView
	NextAction *StepView `json:"next_action,omitempty"`
	LabelHref  string    `json:"label_href,omitempty"`
}

type actionRequest struct {
	Price int    `json:"price"`
	Token string `json:"token"`
}

func SetupRoutes(r *gin.RouterGroup, authSvc *auth.Service, listing *listingService.ListingService) {
	handler := &APIHandler{
		authService:    authSvc,
		listingService: listing,
		basePath:       r.BasePath(),
	}

	r.Use(auth.Viewer(authSvc))

	r.POST("/register", handler.Register)
	r.POST("/login", handler.Login)

	items := r.Group("/items")
	{
		items.GET("/:id", handler.GetItem)
		items.GET("/:id/transaction", auth.RequireViewer(), handler.GetTransaction)
		items.GET("/:id/transaction/label", auth.RequireViewer(), handler.GetShippingLabel)
		items.POST("/:id/transaction/:step", auth.RequireViewer(), handler.PerformStep)
		items.POST("/:id/actions/:kind", auth.RequireViewer(), handler.PerformAction)
	}
}

// Auth handlers
func (h *APIHandler) Register(c *gin.Context) {
	var req struct {
		AccountName string `json:"account_name" binding:"required"`
		Password    string `json:"password" binding:"required"`
		Address     string `json:"address"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.authService.Register(c.Request.Context(), req.AccountName, req.Password, req.Address)
	if errors.Is(err, auth.ErrAccountExists) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respondWithToken(c, http.StatusCreated, user)
}

func (h *APIHandler) Login(c *gin.Context) {
	var req struct {
		AccountName string `json:"account_name" binding:"required"`
		Password    string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.authService.Login(c.Request.Context(), req.AccountName, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respondWithToken(c, http.StatusOK, user)
}

func (h *APIHandler) respondWithToken(c *gin.Context, status int, user *models.User) {
	token, err := h.authService.GenerateToken(user.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(status, gin.H{
		"token": token,
		"user":  user.Simple(),
	})
}

// Item handlers
func (h *APIHandler) GetItem(c *gin.Context) {
	itemID, ok := itemIDParam(c)
	if !ok {
		return
	}
	viewer := auth.ViewerID(c)

	detail, err := h.listingService.GetItemDetail(c.Request.Context(), viewer, itemID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	// BuyerID is only present for the parties; for everyone else it is zero,
	// which resolves the same way as the real buyer id.
	snapshot := actions.Item{
		ID:       detail.ID,
		SellerID: detail.SellerID,
		BuyerID:  detail.BuyerID,
		Status:   detail.Status,
	}

	c.JSON(http.StatusOK, gin.H{
		"item":    detail,
		"actions": h.renderActions(actions.Viewer{UserID: viewer}, snapshot),
	})
}

func (h *APIHandler) GetTransaction(c *gin.Context) {
	itemID, ok := itemIDParam(c)
	if !ok {
		return
	}

	viewer := auth.ViewerID(c)
	view, err := h.listingService.Transaction(c.Request.Context(), viewer, itemID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.transactionResponse(viewer, itemID, view))
}

func (h *APIHandler) transactionResponse(viewer, itemID int64, view *listingService.TransactionView) TransactionResponse {
	resp := TransactionResponse{TransactionView: view}
	if view.NextStep != "" {
		resp.NextAction = &StepView{
			Step:   view.NextStep,
			Method: http.MethodPost,
			Href:   fmt.Sprintf("%s/items/%d/transaction/%s", h.basePath, itemID, view.NextStep),
		}
	}
	if viewer == view.Evidence.SellerID && view.Shipping.Status != models.ShippingStatusInitial {
		resp.LabelHref = fmt.Sprintf("%s/items/%d/transaction/label", h.basePath, itemID)
	}
	return resp
}

// GetShippingLabel serves the pickup label to the seller
func (h *APIHandler) GetShippingLabel(c *gin.Context) {
	itemID, ok := itemIDParam(c)
	if !ok {
		return
	}

	img, err := h.listingService.ShippingLabel(c.Request.Context(), auth.ViewerID(c), itemID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Data(http.StatusOK, "image/png", img)
}

// PerformStep moves a running transaction forward: the seller ships and
// hands the parcel over, the buyer confirms delivery.
func (h *APIHandler) PerformStep(c *gin.Context) {
	itemID, ok := itemIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	viewer := auth.ViewerID(c)
	step := c.Param("step")

	var result interface{}
	var err error
	switch step {
	case listingService.StepShip:
		result, err = h.listingService.Ship(ctx, viewer, itemID)
	case listingService.StepShipDone:
		result, err = h.listingService.ShipDone(ctx, viewer, itemID)
	case listingService.StepComplete:
		result, err = h.listingService.Complete(ctx, viewer, itemID)
	default:
		err = fmt.Errorf("%w: step %q", ErrActionNotOffered, step)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	response := gin.H{"step": step, "result": result}
	if updated, err := h.listingService.GetItem(ctx, itemID); err == nil {
		response["actions"] = h.renderActions(actions.Viewer{UserID: viewer}, toSnapshot(updated))
	}
	c.JSON(http.StatusOK, response)
}

// PerformAction runs a button on behalf of the viewer. Only buttons the item
// page would offer right now can be run.
func (h *APIHandler) PerformAction(c *gin.Context) {
	itemID, ok := itemIDParam(c)
	if !ok {
		return
	}
	kind := actions.Kind(c.Param("kind"))

	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	viewer := actions.Viewer{UserID: auth.ViewerID(c)}

	item, err := h.listingService.GetItem(ctx, itemID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	var result interface{}
	var cmdErr error
	callbacks := actions.Callbacks{
		Buy: func(id int64) {
			result, cmdErr = h.listingService.Buy(ctx, viewer.UserID, id, req.Token)
		},
		Edit: func(id int64) {
			result, cmdErr = h.listingService.Edit(ctx, viewer.UserID, id, req.Price)
		},
		Bump: func(id int64) {
			result, cmdErr = h.listingService.Bump(ctx, viewer.UserID, id)
		},
		Transaction: func(id int64) {
			var view *listingService.TransactionView
			if view, cmdErr = h.listingService.Transaction(ctx, viewer.UserID, id); cmdErr == nil {
				result = h.transactionResponse(viewer.UserID, id, view)
			}
		},
	}

	snapshot := toSnapshot(item)
	descriptor, found := actions.Find(actions.Resolve(viewer, snapshot, callbacks), kind)
	if !found || descriptor.Disabled {
		logrus.WithFields(logrus.Fields{
			"item_id": itemID,
			"kind":    kind,
			"rule":    actions.Match(viewer, snapshot),
		}).Debug("action not offered")
		h.respondError(c, fmt.Errorf("%w: %s", ErrActionNotOffered, kind))
		return
	}

	descriptor.OnClick()
	if cmdErr != nil {
		h.respondError(c, cmdErr)
		return
	}

	// resolve again so the client can redraw without another round trip
	response := gin.H{"kind": kind, "result": result}
	if updated, err := h.listingService.GetItem(ctx, itemID); err == nil {
		response["actions"] = h.renderActions(viewer, toSnapshot(updated))
	}
	c.JSON(http.StatusOK, response)
}

func toSnapshot(item *models.Item) actions.Item {
	return actions.Item{
		ID:       item.ID,
		SellerID: item.SellerID,
		BuyerID:  item.BuyerID,
		Status:   item.Status,
	}
}

func (h *APIHandler) renderActions(viewer actions.Viewer, item actions.Item) []ActionView {
	descriptors := actions.Resolve(viewer, item, actions.Callbacks{})

	views := make([]ActionView, 0, len(descriptors))
	for _, d := range descriptors {
		view := ActionView{
			Kind:     d.Kind,
			Label:    d.Label,
			Disabled: d.Disabled,
			Tooltip:  d.Tooltip,
		}
		switch {
		case d.Disabled:
		case d.Kind == actions.KindTransaction:
			view.Method = http.MethodGet
			view.Href = fmt.Sprintf("%s/items/%d/transaction", h.basePath, item.ID)
		default:
			view.Method = http.MethodPost
			view.Href = fmt.Sprintf("%s/items/%d/actions/%s", h.basePath, item.ID, d.Kind)
		}
		views = append(views, view)
	}
	return views
}

func itemIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "incorrect item id"})
		return 0, false
	}
	return id, true
}

func (h *APIHandler) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logrus.WithError(err).WithField("path", c.Request.URL.Path).Error("request failed")
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, listingService.ErrItemNotFound),
		errors.Is(err, listingService.ErrUserNotFound),
		errors.Is(err, listingService.ErrTransactionNotFound),
		errors.Is(err, listingService.ErrLabelNotFound):
		return http.StatusNotFound
	case errors.Is(err, listingService.ErrNotForSale),
		errors.Is(err, listingService.ErrOwnItem),
		errors.Is(err, listingService.ErrNotSeller),
		errors.Is(err, listingService.ErrNotParty),
		errors.Is(err, listingService.ErrBumpTooSoon),
		errors.Is(err, listingService.ErrNotBuyer),
		errors.Is(err, listingService.ErrNotTrading),
		errors.Is(err, listingService.ErrNotReady),
		errors.Is(err, listingService.ErrShipmentPending),
		errors.Is(err, ErrActionNotOffered):
		return http.StatusForbidden
	case errors.Is(err, listingService.ErrInvalidPrice),
		errors.Is(err, listingService.ErrShipmentNotDone),
		errors.Is(err, listingService.ErrPaymentRejected),
		errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
