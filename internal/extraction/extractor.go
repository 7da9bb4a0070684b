package extraction

import (
	"context"
	"fmt"
	"strings"

	"tenderlens/internal/ai"
	"tenderlens/internal/model"
)

// LLM produces structured extraction output. Satisfied by *ai.ChatCaller.
type LLM interface {
	CompleteJSON(ctx context.Context, messages []ai.Message, out interface{}) error
}

const requirementsSystemPrompt = `You are an expert tender requirement extraction assistant.

Your task is to extract ALL requirements from tender documents with high accuracy.

Requirements include:
- Technical specifications
- Functional requirements
- Performance criteria
- Compliance requirements
- Vendor qualifications
- Submission requirements
- Project deliverables
- Timeline requirements
- Quality standards
- Safety requirements

For EACH requirement you extract, provide:
1. Category: Type of requirement (Technical, Functional, Compliance, Quality, Timeline, etc.)
2. Requirement Detail: Clear, concise statement of the requirement
3. Mandatory/Optional: Whether the requirement is "Mandatory" or "Optional" (or "Unclear" if not stated)
4. Confidence: Your confidence in this extraction (0.0 to 1.0)

Output Format:
Return a JSON array of requirements in this exact format:
[
  {
    "category": "Category name",
    "requirement_detail": "Clear requirement statement",
    "mandatory_optional": "Mandatory|Optional|Unclear",
    "confidence_score": 0.95
  }
]

Important:
- Be thorough - extract ALL requirements, even if numerous
- Keep requirement details concise but complete
- Use exact quotes when possible
- If a section contains no requirements, return an empty array []
- Return ONLY valid JSON, no explanations or markdown formatting`

const bomSystemPrompt = `You are an expert bill-of-materials extraction assistant for tender documents.

Your task is to extract ALL bill-of-materials line items from the given page: equipment, materials, components, and services with quantities.

For EACH line item, provide:
1. Item Number: The item/position number as printed (empty string if absent)
2. Description: The item description
3. Unit: Unit of measure (pcs, m, kg, set, lot, etc.; empty string if absent)
4. Quantity: Numeric quantity (0 if absent)
5. Notes: Remarks or specifications attached to the line (empty string if absent)
6. Hierarchy Level: 0 for top-level items, 1 for sub-items, 2 for sub-sub-items

Output Format:
Return a JSON array in this exact format:
[
  {
    "item_number": "1.1",
    "description": "Item description",
    "unit": "pcs",
    "quantity": 4,
    "notes": "",
    "hierarchy_level": 1
  }
]

Important:
- Extract table rows as individual items; keep parent/child structure via hierarchy_level
- If the page contains no bill-of-materials content, return an empty array []
- Return ONLY valid JSON, no explanations or markdown formatting`

type requirementRecord struct {
	Category          string  `json:"category"`
	RequirementDetail string  `json:"requirement_detail"`
	MandatoryOptional string  `json:"mandatory_optional"`
	ConfidenceScore   float64 `json:"confidence_score"`
}

type bomRecord struct {
	ItemNumber     string  `json:"item_number"`
	Description    string  `json:"description"`
	Unit           string  `json:"unit"`
	Quantity       float64 `json:"quantity"`
	Notes          string  `json:"notes"`
	HierarchyLevel int     `json:"hierarchy_level"`
}

// RequirementExtractor runs the strict-JSON requirements prompt page by page.
type RequirementExtractor struct {
	llm LLM
}

func NewRequirementExtractor(llm LLM) *RequirementExtractor {
	return &RequirementExtractor{llm: llm}
}

// ExtractPage returns the requirements found on one page. Records with an
// empty detail are discarded; missing fields get the defaults "Uncategorized",
// "Unclear" and confidence 0.5.
func (e *RequirementExtractor) ExtractPage(ctx context.Context, documentSource string, page model.DocumentPage) ([]model.Requirement, error) {
	if strings.TrimSpace(page.Text) == "" {
		return nil, nil
	}

	messages := []ai.Message{
		{Role: "system", Content: requirementsSystemPrompt},
		{Role: "user", Content: fmt.Sprintf(
			"Extract all requirements from the following tender document excerpt.\n\nPage Number: %d\n\nDocument Text:\n%s\n\nRequirements (JSON array):",
			page.PageNumber, page.Text)},
	}

	var records []requirementRecord
	if err := e.llm.CompleteJSON(ctx, messages, &records); err != nil {
		return nil, err
	}

	requirements := make([]model.Requirement, 0, len(records))
	for _, rec := range records {
		if strings.TrimSpace(rec.RequirementDetail) == "" {
			continue
		}
		if rec.Category == "" {
			rec.Category = "Uncategorized"
		}
		if rec.MandatoryOptional == "" {
			rec.MandatoryOptional = "Unclear"
		}
		if rec.ConfidenceScore == 0 {
			rec.ConfidenceScore = 0.5
		}
		requirements = append(requirements, model.Requirement{
			DocumentSource:    documentSource,
			Category:          rec.Category,
			RequirementDetail: rec.RequirementDetail,
			MandatoryOptional: rec.MandatoryOptional,
			PageNumber:        page.PageNumber,
			ConfidenceScore:   rec.ConfidenceScore,
		})
	}
	return requirements, nil
}

// BomExtractor runs the strict-JSON bill-of-materials prompt page by page.
type BomExtractor struct {
	llm LLM
}

func NewBomExtractor(llm LLM) *BomExtractor {
	return &BomExtractor{llm: llm}
}

// ExtractPage returns the bill-of-materials lines found on one page. Records
// without a description are discarded.
func (e *BomExtractor) ExtractPage(ctx context.Context, page model.DocumentPage) ([]model.BomItem, error) {
	if strings.TrimSpace(page.Text) == "" {
		return nil, nil
	}

	messages := []ai.Message{
		{Role: "system", Content: bomSystemPrompt},
		{Role: "user", Content: fmt.Sprintf(
			"Extract all bill-of-materials items from the following tender document excerpt.\n\nPage Number: %d\n\nDocument Text:\n%s\n\nItems (JSON array):",
			page.PageNumber, page.Text)},
	}

	var records []bomRecord
	if err := e.llm.CompleteJSON(ctx, messages, &records); err != nil {
		return nil, err
	}

	items := make([]model.BomItem, 0, len(records))
	for _, rec := range records {
		if strings.TrimSpace(rec.Description) == "" {
			continue
		}
		if rec.HierarchyLevel < 0 {
			rec.HierarchyLevel = 0
		}
		items = append(items, model.BomItem{
			ItemNumber:     rec.ItemNumber,
			Description:    rec.Description,
			Unit:           rec.Unit,
			Quantity:       rec.Quantity,
			Notes:          rec.Notes,
			HierarchyLevel: rec.HierarchyLevel,
			PageNumber:     page.PageNumber,
		})
	}
	return items, nil
}
