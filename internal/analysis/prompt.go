package analysis

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a cautious finance research assistant. Use the built-in web search only when needed. Never guarantee profit; prefer large-cap liquid tickers. Provide concise, explainable rationales.`

const patternAddendum = `

Pattern awareness: tariff threats from this account have historically been followed by a sharp market drop and a rebound once the threat is walked back. When a post announces or escalates tariffs, consider BUY_PUTS on broad index ETFs for the drop; when it signals a deal or delay, consider BUY_CALLS for the rebound. For options signals include strike, expiration and timing.`

const shapeSystemPrompt = `Return ONLY valid JSON with keys: analysis, sentiment, confidence (0-1), tickers (list of {symbol, action[BUY|SELL|HOLD], rationale}), needs_search (bool), sources (list of {title,url}). If no trade, tickers=[].`

const shapePatternAddendum = ` Tickers may also use action BUY_PUTS or BUY_CALLS with optional strike (number), expiration (YYYY-MM-DD) and timing. Add priority (integer -2..2): use 2 only for an actionable options signal that should alert immediately.`

const screenSystemPrompt = `You are a trading assistant screening social media posts. Your ONLY job is to identify if a post is about tariffs, trade policy, or trade negotiations. Respond with JSON only.`

func buildSystemPrompt(pattern bool) string {
	if pattern {
		return systemPrompt + patternAddendum
	}
	return systemPrompt
}

func buildMainPrompt(in Input) string {
	return fmt.Sprintf("Analyze this social media post and decide if a trade is warranted.\nPOST_URL: %s\nCREATED_AT: %s\nPOST_TEXT:\n%s\n\nReturn a short analysis. If you used web search, cite sources inline and list them.",
		in.URL, in.CreatedAt, strings.TrimSpace(in.Text))
}

func buildEscalationPrompt(in Input) string {
	return fmt.Sprintf("Re-analyze with deeper reasoning and refine the trade decision.\nPOST_URL: %s\nCREATED_AT: %s\nPOST_TEXT:\n%s\nReturn a short analysis; cite sources if you browse.",
		in.URL, in.CreatedAt, strings.TrimSpace(in.Text))
}

func buildShapeSystemPrompt(pattern bool) string {
	if pattern {
		return shapeSystemPrompt + shapePatternAddendum
	}
	return shapeSystemPrompt
}

func buildShapePrompt(assistantText string, whitelist []string) string {
	note := ""
	if len(whitelist) > 0 {
		note = " Restrict to these tickers: " + strings.Join(whitelist, ", ")
	}
	return "Convert this analysis to the required JSON format:\n\n" + assistantText + note
}

func buildScreenPrompt(text string) string {
	return fmt.Sprintf(`Is this post about tariffs/trade policy? Respond with JSON: {"relevant": true/false, "confidence": 0.0-1.0, "reasoning": "brief explanation"}

Post: %s`, truncateRunes(text, 500))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
