package arbitration

import (
	"fmt"
	"strings"
)

// BuildPrompt renders the arbitrator prompt for a case and its already
// rendered evidence blocks.
func BuildPrompt(c Case, buyerEvidence, sellerEvidence string) string {
	var b strings.Builder
	b.WriteString("You are an escrow arbitrator. Decide a fair resolution for this P2P deal.\n\n")
	b.WriteString("Return ONLY valid JSON (no markdown) with keys:\n")
	b.WriteString(`- "winner": "buyer" or "seller"` + "\n")
	b.WriteString(`- "refund_pct": integer 0..100 (percent of escrow to refund to buyer)` + "\n")
	fmt.Fprintf(&b, "- \"rationale\": short text (max %d chars)\n\n", MaxRationaleChars)

	b.WriteString("Case:\n")
	fmt.Fprintf(&b, "- price: %s\n", c.Price)
	fmt.Fprintf(&b, "- state: %s\n", c.State)
	fmt.Fprintf(&b, "- trackingUrl: %s\n\n", c.TrackingURL)

	section(&b, "Buyer statement", c.BuyerStatement)
	section(&b, "Seller statement", c.SellerStatement)
	section(&b, "Buyer evidence (rendered)", buyerEvidence)
	section(&b, "Seller evidence (rendered)", sellerEvidence)
	return b.String()
}

func section(b *strings.Builder, title, body string) {
	b.WriteString(title)
	b.WriteString(":\n")
	b.WriteString(body)
	b.WriteString("\n\n")
}
