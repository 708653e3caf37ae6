package linkgen

import (
	"context"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/avolkov/market-linkgen/internal/linkerr"
	"github.com/avolkov/market-linkgen/internal/pacing"
)

// Share-button selectors, most specific first. The storefront renders
// the button differently across page layouts and experiments.
var shareSelectors = []string{
	`button[aria-label="Поделиться"]`,
	`[data-auto="share-button"]`,
	`button[title="Поделиться"]`,
	`div[data-zone-name="share"] button`,
	`button:has-text("Поделиться")`,
}

// Copy-link controls inside the share popup.
var copySelectors = []string{
	`button:has-text("Скопировать ссылку")`,
	`[data-auto="copy-link-button"]`,
	`button[aria-label="Скопировать ссылку"]`,
	`button:has-text("Скопировать")`,
}

// Inputs the popup sometimes prefills with the generated link.
var linkInputSelectors = []string{
	`[data-auto="share-popup"] input`,
	`div[role="dialog"] input[readonly]`,
	`div[role="dialog"] input`,
}

const maxClickAttempts = 3

// interact drives the share flow by hand: hover and click the share
// button, then harvest the link from the observed API traffic, the
// popup's prefilled input, or the clipboard after pressing copy.
func (e *Engine) interact(ctx context.Context, page playwright.Page, obs *observer) (string, error) {
	btn, err := firstVisible(page, shareSelectors)
	if err != nil {
		return "", err
	}
	if btn == nil {
		return "", linkerr.New(linkerr.KindButtonNotFound, "share button not found on page")
	}

	for attempt := 1; attempt <= maxClickAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", linkerr.Wrap(linkerr.Classify(err), "interaction cancelled", err)
		}

		if err := btn.Hover(); err == nil {
			if err := pacing.Sleep(ctx, pacing.HoverDelay()); err != nil {
				return "", linkerr.Wrap(linkerr.Classify(err), "interaction cancelled", err)
			}
		}

		clickErr := btn.Click(playwright.LocatorClickOptions{
			Timeout: playwright.Float(5000),
		})
		if clickErr != nil {
			e.logger.Debug("share button click failed", "attempt", attempt, "error", clickErr)
			if err := pacing.Sleep(ctx, pacing.RetryDelay()); err != nil {
				return "", linkerr.Wrap(linkerr.Classify(err), "interaction cancelled", err)
			}
			continue
		}

		if err := pacing.Sleep(ctx, pacing.ClickDelay()); err != nil {
			return "", linkerr.Wrap(linkerr.Classify(err), "interaction cancelled", err)
		}

		// The click usually fires the share API; give the observer a
		// chance before poking at the popup DOM.
		if link, ok := obs.await(pacing.NetworkWait()); ok {
			return link, nil
		}

		if link, ok := e.linkFromPopup(page); ok {
			return link, nil
		}

		if link, ok := e.linkFromClipboard(ctx, page); ok {
			return link, nil
		}

		if err := pacing.Sleep(ctx, pacing.RetryDelay()); err != nil {
			return "", linkerr.Wrap(linkerr.Classify(err), "interaction cancelled", err)
		}
	}

	return "", linkerr.New(linkerr.KindParsing, "share flow produced no link")
}

// linkFromPopup reads the prefilled link input inside the share dialog.
func (e *Engine) linkFromPopup(page playwright.Page) (string, bool) {
	for _, sel := range linkInputSelectors {
		loc := page.Locator(sel)
		count, err := loc.Count()
		if err != nil || count == 0 {
			continue
		}
		value, err := loc.First().InputValue()
		if err != nil {
			continue
		}
		if link, ok := linkFromText(value); ok {
			return link, true
		}
	}
	return "", false
}

// linkFromClipboard clicks the copy control and reads the clipboard.
// Requires the clipboard-read permission granted at context creation.
func (e *Engine) linkFromClipboard(ctx context.Context, page playwright.Page) (string, bool) {
	btn, err := firstVisible(page, copySelectors)
	if err != nil || btn == nil {
		return "", false
	}
	if err := btn.Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(3000),
	}); err != nil {
		return "", false
	}
	if err := pacing.Sleep(ctx, pacing.ClickDelay()); err != nil {
		return "", false
	}

	raw, err := page.Evaluate("() => navigator.clipboard.readText()")
	if err != nil {
		return "", false
	}
	text, ok := raw.(string)
	if !ok {
		return "", false
	}
	return linkFromText(strings.TrimSpace(text))
}

// firstVisible returns the first selector from the ranked list that
// matches a visible element, or nil when none do.
func firstVisible(page playwright.Page, selectors []string) (playwright.Locator, error) {
	for _, sel := range selectors {
		loc := page.Locator(sel)
		count, err := loc.Count()
		if err != nil {
			continue
		}
		if count == 0 {
			continue
		}
		first := loc.First()
		visible, err := first.IsVisible()
		if err != nil || !visible {
			continue
		}
		return first, nil
	}
	return nil, nil
}
