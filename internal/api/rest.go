package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/errors"
	"github.com/victornm/etrivia/internal/leaderboard"
	"github.com/victornm/etrivia/internal/room"
)

type (
	registerPlayerRequest struct {
		ID       string `json:"id"`
		Username string `json:"username" binding:"required"`
	}

	playerResponse struct {
		ID         string          `json:"id"`
		Username   string          `json:"username"`
		TotalScore decimal.Decimal `json:"totalScore"`
		CreatedAt  time.Time       `json:"createdAt"`
	}

	submitScoreRequest struct {
		Game   string          `json:"game" binding:"required"`
		Points decimal.Decimal `json:"points"`
	}

	submitScoreResponse struct {
		Message  string          `json:"message"`
		NewTotal decimal.Decimal `json:"newTotal"`
		Position int64           `json:"position"`
		Game     string          `json:"game"`
		Points   decimal.Decimal `json:"points"`
	}

	rankingResponse struct {
		Message    string                `json:"message"`
		Ranking    []domain.RankingEntry `json:"ranking"`
		TotalUsers int                   `json:"totalUsers"`
	}

	positionResponse struct {
		PlayerID   string          `json:"playerId"`
		Username   string          `json:"username"`
		TotalScore decimal.Decimal `json:"totalScore"`
		Position   int64           `json:"position"`
	}

	roomResponse struct {
		ID              string           `json:"id"`
		Phase           room.Phase       `json:"phase"`
		Active          bool             `json:"isActive"`
		Round           int              `json:"round"`
		Rounds          int              `json:"rounds"`
		CurrentQuestion *domain.Question `json:"currentQuestion"`
		Players         []domain.Player  `json:"players"`
	}
)

// RegisterPlayer creates the persistent record of an account.
func (a *API) RegisterPlayer(c *gin.Context) {
	var req registerPlayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, badRequest(err))
		return
	}

	rec, err := a.ls.Register(c.Request.Context(), leaderboard.RegisterRequest{
		PlayerID: req.ID,
		Username: req.Username,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusCreated, playerResponse{
		ID:         rec.PlayerID,
		Username:   rec.Username,
		TotalScore: rec.TotalScore,
		CreatedAt:  rec.CreatedAt,
	})
}

// SubmitScore records a game score for the calling account.
func (a *API) SubmitScore(c *gin.Context) {
	account := a.identity(c.Request)
	if account == "" {
		abort(c, errors.Unauthenticated("missing account"))
		return
	}

	var req submitScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, badRequest(err))
		return
	}

	ctx := c.Request.Context()
	resp, err := a.ls.SubmitScore(ctx, leaderboard.SubmitScoreRequest{
		PlayerID: account,
		Game:     req.Game,
		Points:   req.Points,
	})
	if err != nil {
		abort(c, err)
		return
	}

	pos, err := a.ls.GetPosition(ctx, account)
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, submitScoreResponse{
		Message:  "score submitted",
		NewTotal: resp.NewTotal,
		Position: pos.Position,
		Game:     req.Game,
		Points:   req.Points,
	})
}

// GetRanking returns the global leaderboard.
func (a *API) GetRanking(c *gin.Context) {
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			abort(c, errors.InvalidArgument("limit must be a positive integer: %q", s))
			return
		}
		limit = n
	}

	rk, err := a.ls.GetRanking(c.Request.Context(), limit)
	if err != nil {
		abort(c, err)
		return
	}

	msg := "ranking retrieved"
	if len(rk) == 0 {
		msg = "no scores yet"
	}

	c.JSON(http.StatusOK, rankingResponse{
		Message:    msg,
		Ranking:    rk,
		TotalUsers: len(rk),
	})
}

func (a *API) GetPosition(c *gin.Context) {
	pos, err := a.ls.GetPosition(c.Request.Context(), c.Param("playerId"))
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, positionResponse{
		PlayerID:   pos.PlayerID,
		Username:   pos.Username,
		TotalScore: pos.TotalScore,
		Position:   pos.Position,
	})
}

func (a *API) GetRoom(c *gin.Context) {
	st, ok := a.rs.State(c.Request.Context(), c.Param("roomId"))
	if !ok {
		abort(c, errors.NotFound("room not found: %s", c.Param("roomId")))
		return
	}

	c.JSON(http.StatusOK, roomResponse{
		ID:              st.ID,
		Phase:           st.Phase,
		Active:          st.Active,
		Round:           st.Round,
		Rounds:          st.Rounds,
		CurrentQuestion: st.CurrentQuestion,
		Players:         st.Players,
	})
}

func badRequest(err error) error {
	return errors.New(errors.CodeInvalidArgument,
		errors.WithMessagef("invalid request: %s", err),
		errors.WithCause(err))
}
