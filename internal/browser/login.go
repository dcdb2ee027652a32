package browser

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// FormLogin fills a username/password form and submits it. Each step is
// skipped when its selector is empty, and the whole login is skipped when
// there is no login URL.
type FormLogin struct {
	Session        *Session
	LoginURL       string
	UserSelector   string
	PassSelector   string
	SubmitSelector string
	Username       string
	Password       string
	// Timeout bounds the navigation to the login page.
	Timeout time.Duration
	// Wait gives redirects and post-login scripts time to settle.
	Wait   time.Duration
	Logger *zap.Logger
}

func (l *FormLogin) Login(ctx context.Context) error {
	if l.LoginURL == "" {
		return nil
	}
	l.Logger.Info("Logging in", zap.String("url", l.LoginURL))

	navCtx, cancel := context.WithTimeout(ctx, l.Timeout)
	err := l.Session.run(navCtx,
		chromedp.Navigate(l.LoginURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	cancel()
	if err != nil {
		return err
	}

	var actions []chromedp.Action
	if l.UserSelector != "" {
		actions = append(actions, fill(l.UserSelector, l.Username)...)
	}
	if l.PassSelector != "" {
		actions = append(actions, fill(l.PassSelector, l.Password)...)
	}
	if l.SubmitSelector != "" {
		actions = append(actions, chromedp.Click(l.SubmitSelector, chromedp.ByQuery))
	}
	actions = append(actions, chromedp.Sleep(l.Wait))

	formCtx, cancel := context.WithTimeout(ctx, l.Timeout+l.Wait)
	defer cancel()
	return l.Session.run(formCtx, actions...)
}

// fill replaces the field's value the way a user typing would.
func fill(selector, value string) []chromedp.Action {
	return []chromedp.Action{
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	}
}
