package services

import (
	"strings"

	"github.com/inaiurai/bidengine/internal/models"
)

// Task categories, checked in declaration order; the first hit wins.
const (
	CategoryDataCollection = "data-collection"
	CategorySmartContract  = "smart-contract"
	CategoryTrading        = "trading"
	CategoryFrontend       = "frontend"
	CategoryBackend        = "backend"
	CategoryResearch       = "research"
	CategoryContent        = "content"
	CategoryGeneric        = "generic"
)

type categoryRule struct {
	name     string
	keywords []string
}

var categoryRules = []categoryRule{
	{CategoryDataCollection, []string{"scrape", "scraping", "scraper", "crawl", "dataset", "data collection", "collect data", "extract data", "csv", "spreadsheet"}},
	{CategorySmartContract, []string{"solidity", "smart contract", "erc20", "erc-20", "erc721", "nft", "evm", "audit", "token contract", "foundry", "hardhat"}},
	{CategoryTrading, []string{"trading", "trade", "arbitrage", "backtest", "portfolio", "yield", "liquidity", "market making", "signal"}},
	{CategoryFrontend, []string{"frontend", "front-end", "react", "ui", "ux", "landing page", "website", "dashboard", "css", "figma"}},
	{CategoryBackend, []string{"api", "backend", "server", "database", "automation", "bot", "webhook", "integration", "microservice", "cron"}},
	{CategoryResearch, []string{"research", "analysis", "analyze", "report", "competitor", "market study", "survey", "investigate", "compare"}},
	{CategoryContent, []string{"tweet", "twitter", "thread", "blog", "article", "content", "social", "copywriting", "newsletter", "discord"}},
}

// Classify returns the first category whose keywords appear in the task text.
func Classify(task *models.Task) string {
	text := task.Text()
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if containsKeyword(text, kw) {
				return rule.name
			}
		}
	}
	return CategoryGeneric
}

// containsKeyword reports whether kw occurs in text starting at a word
// boundary, so "ui" does not match "build" while "scrape" still matches
// "scraper".
func containsKeyword(text, kw string) bool {
	for start := 0; ; {
		i := strings.Index(text[start:], kw)
		if i < 0 {
			return false
		}
		i += start
		if i == 0 || !isWordByte(text[i-1]) {
			return true
		}
		start = i + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') || ('0' <= b && b <= '9')
}
