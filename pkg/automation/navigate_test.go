package automation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/reimburse/pkg/types"
)

// portalPage builds a page where each navigation click reveals the next
// control, like the real portal does.
func portalPage(loggedIn bool) *fakePage {
	p := newFakePage()
	if loggedIn {
		p.visible(DefaultLoginMarker)
	}
	chain := make([]string, 0, len(navigationSteps)+1)
	for _, step := range navigationSteps {
		chain = append(chain, step.Selectors[0])
	}
	chain = append(chain, targetExpenseForm.Selectors[0])

	p.visible(chain[0])
	for i := 0; i < len(chain)-1; i++ {
		next := chain[i+1]
		p.el(chain[i]).onClick = func() { p.visible(next) }
	}
	return p
}

func TestNavigateToExpenseForm(t *testing.T) {
	p := portalPage(true)

	err := newTestDriver().NavigateToExpenseForm(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, 1, p.gotos)
	assert.Equal(t, home, p.URL())
	assert.Equal(t, []string{
		`click:img[src="/images/Icons_latest/reimbursement.png"]`,
		"click:button#createButtonTop",
		`click:a.dropdown-item:has-text("Request Reimbursement")`,
		`click:button.db-btn.style-primary:has-text("CREATE")`,
		"click:a.add_expense_button",
		"click:a.add_expense_manual_ocr",
	}, p.eventLog())
}

func TestNavigateToExpenseForm_NotLoggedIn(t *testing.T) {
	p := portalPage(false)

	err := newTestDriver().NavigateToExpenseForm(context.Background(), p)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNotLoggedIn)
	assert.True(t, types.IsFatal(err))
	assert.Contains(t, err.Error(), "Not logged in. Please login to Darwinbox first.")
	assert.Empty(t, p.eventLog(), "no navigation click happens without a session")
}

func TestNavigateToExpenseForm_StepFailureAborts(t *testing.T) {
	p := portalPage(true)
	// The CREATE button never shows up.
	p.el(targetReimbursements.Selectors[0]).onClick = nil

	err := newTestDriver().NavigateToExpenseForm(context.Background(), p)
	require.Error(t, err)
	assert.True(t, types.IsFatal(err))
	assert.Contains(t, err.Error(), "CREATE button")
	assert.Equal(t, 1, p.el(targetReimbursements.Selectors[0]).clickCount())
	assert.Zero(t, p.el(targetRequestReimbursement.Selectors[0]).clickCount())
}

func TestNavigateToExpenseForm_GotoFailure(t *testing.T) {
	p := portalPage(true)
	p.gotoErr = assert.AnError

	err := newTestDriver().NavigateToExpenseForm(context.Background(), p)
	assert.ErrorIs(t, err, assert.AnError)
	assert.True(t, types.IsFatal(err))
}

func TestCheckLogin(t *testing.T) {
	t.Run("reloads when already on the portal", func(t *testing.T) {
		p := portalPage(true)
		p.url = home + "dashboard"

		ok, err := newTestDriver().CheckLogin(context.Background(), p)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, p.reloads)
		assert.Zero(t, p.gotos)
	})

	t.Run("navigates from elsewhere", func(t *testing.T) {
		p := portalPage(true)
		p.url = "about:blank"

		ok, err := newTestDriver().CheckLogin(context.Background(), p)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, p.gotos)
	})

	t.Run("missing marker is not an error", func(t *testing.T) {
		p := portalPage(false)

		ok, err := newTestDriver().CheckLogin(context.Background(), p)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("custom marker", func(t *testing.T) {
		p := newFakePage()
		p.visible("#dashboard")

		d := NewDriver(home, WithTimings(fastTimings()), WithLoginMarker("#dashboard"))
		ok, err := d.CheckLogin(context.Background(), p)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestAdvanceToNextExpense(t *testing.T) {
	t.Run("uses a fallback selector", func(t *testing.T) {
		p := newFakePage()
		p.visible(`[class*="add_expense"]`)
		p.el(`[class*="add_expense"]`).onClick = func() { p.visible(`a:has-text("Skip")`) }
		p.el(`a:has-text("Skip")`).onClick = func() { p.visible("#addExpenses") }

		err := newTestDriver().AdvanceToNextExpense(context.Background(), p)
		require.NoError(t, err)
		assert.Equal(t, []string{`click:[class*="add_expense"]`, `click:a:has-text("Skip")`}, p.eventLog())
		assert.Len(t, p.evaluations(scrollTopJS), 1)
	})

	t.Run("retries then fails fatally", func(t *testing.T) {
		p := newFakePage()

		err := newTestDriver().AdvanceToNextExpense(context.Background(), p)
		require.Error(t, err)
		assert.True(t, types.IsFatal(err))
		assert.Contains(t, err.Error(), "after 3 attempts")
		assert.Len(t, p.evaluations(scrollTopJS), 3, "scrolls to top before every attempt")
	})

	t.Run("missing skip link is fatal", func(t *testing.T) {
		p := newFakePage()
		p.visible("a.add_expense_button")

		err := newTestDriver().AdvanceToNextExpense(context.Background(), p)
		require.Error(t, err)
		assert.True(t, types.IsFatal(err))
		assert.Contains(t, err.Error(), "Skip & Add Expenses Manually")
	})
}
