package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	apierrors "github.com/customeros/mailpulse/api/errors"
	"github.com/customeros/mailpulse/dto"
	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/models"
)

type AccountService interface {
	ListAccounts(ctx context.Context) ([]*models.Account, error)
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	CreateAccount(ctx context.Context, request dto.CreateAccountRequest) (*models.Account, error)
	ActivateAccount(ctx context.Context, id string) error
	DeactivateAccount(ctx context.Context, id string) error
	DeleteAccount(ctx context.Context, id string) error
	SyncAccount(ctx context.Context, id string) (dto.SyncRequestOutcome, error)
}

type AccountsHandler struct {
	accounts   AccountService
	supervisor interfaces.SyncSupervisor
}

func NewAccountsHandler(accounts AccountService, supervisor interfaces.SyncSupervisor) *AccountsHandler {
	return &AccountsHandler{accounts: accounts, supervisor: supervisor}
}

type accountResponse struct {
	*models.Account
	Sync *dto.AccountSyncStatus `json:"sync,omitempty"`
}

func (h *AccountsHandler) withStatus(account *models.Account) accountResponse {
	response := accountResponse{Account: account}
	if status, ok := h.supervisor.AccountStatus(account.ID); ok {
		response.Sync = &status
	}
	return response
}

func (h *AccountsHandler) List(c *gin.Context) {
	accounts, err := h.accounts.ListAccounts(c.Request.Context())
	if err != nil {
		apierrors.Respond(c, err)
		return
	}

	response := make([]accountResponse, 0, len(accounts))
	for _, account := range accounts {
		response = append(response, h.withStatus(account))
	}
	c.JSON(http.StatusOK, response)
}

func (h *AccountsHandler) Get(c *gin.Context) {
	account, err := h.accounts.GetAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, h.withStatus(account))
}

func (h *AccountsHandler) Create(c *gin.Context) {
	var request dto.CreateAccountRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := h.accounts.CreateAccount(c.Request.Context(), request)
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.withStatus(account))
}

func (h *AccountsHandler) Activate(c *gin.Context) {
	id := c.Param("id")
	if err := h.accounts.ActivateAccount(c.Request.Context(), id); err != nil {
		apierrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "account activated", "id": id})
}

func (h *AccountsHandler) Deactivate(c *gin.Context) {
	id := c.Param("id")
	if err := h.accounts.DeactivateAccount(c.Request.Context(), id); err != nil {
		apierrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "account deactivated", "id": id})
}

func (h *AccountsHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.accounts.DeleteAccount(c.Request.Context(), id); err != nil {
		apierrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "account deleted", "id": id})
}

// Sync answers before the run happens.
func (h *AccountsHandler) Sync(c *gin.Context) {
	id := c.Param("id")
	outcome, err := h.accounts.SyncAccount(c.Request.Context(), id)
	if err != nil {
		apierrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "outcome": outcome})
}
