package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"partner_portal/internal/auth"
	"partner_portal/internal/journals"
)

// MyJournalBranches proxies the caller's branch list from the journal
// service.
func MyJournalBranches(jc *journals.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		branches, err := jc.BranchesWithJournals(c.Request.Context(), auth.Token(c))
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "journal service unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"branches": branches})
	}
}

// SubmitJournalDecision records an accept or reject decision upstream.
// Unlike the chat read paths, a slow journal service surfaces as 502 here
// instead of degrading, the decision must actually land.
func SubmitJournalDecision(jc *journals.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			Decision string `json:"decision" binding:"required,oneof=ACCEPTED REJECTED"`
			Comment  string `json:"comment"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		err := jc.SubmitDecision(c.Request.Context(), auth.Token(c),
			c.Param("branchId"), c.Param("journalId"), input.Decision, input.Comment)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "journal service rejected the decision"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"submitted": true})
	}
}
