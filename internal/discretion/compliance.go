package discretion

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/leolimacr/advisor-core/internal/textutil"
)

// Category names a class of regulated advice
type Category string

const (
	CategoryPersonalizedInvestment Category = "personalized_investment"
	CategoryBuySell                Category = "buy_sell_recommendation"
	CategoryAllocation             Category = "allocation_advice"
)

// ComplianceResult reports whether text crossed into regulated advice
type ComplianceResult struct {
	Violation bool
	Category  Category
}

type compliancePattern struct {
	category Category
	re       *regexp.Regexp
}

// Patterns run against folded text
var requestPatterns = []compliancePattern{
	{CategoryPersonalizedInvestment, regexp.MustCompile(`\bonde (eu )?(devo|deveria|posso|poderia|vou|tenho que|teria que) (investir|aplicar|colocar|por|botar)\b`)},
	{CategoryPersonalizedInvestment, regexp.MustCompile(`\b(em|no) que (eu )?(devo|deveria) (investir|aplicar)\b`)},
	{CategoryPersonalizedInvestment, regexp.MustCompile(`\b(qual|qual e) o melhor investimento (para|pra) (mim|eu)\b`)},
	{CategoryPersonalizedInvestment, regexp.MustCompile(`\b(me )?(recomend|indiqu|indic|sugir|sugere)\w* (uma?|algum|alguma|quais?|um bom|uma boa)? ?(acao|acoes|ativos?|fundos?|investimentos?|cripto\w*|fiis?|cdbs?)\b`)},
	{CategoryBuySell, regexp.MustCompile(`\b(devo|deveria|vale a pena|compensa) (comprar|vender) (acoes|acao|cotas|bitcoin|btc|cripto\w*|dolar|[a-z]{4}\d{1,2})\b`)},
	{CategoryBuySell, regexp.MustCompile(`\b(qual|quais|que) (acao|acoes|ativos?|fundos?|cripto\w*|fiis?)( eu)? (devo|deveria|posso|vale a pena|compensa) (comprar|vender|investir)\b`)},
	{CategoryBuySell, regexp.MustCompile(`\b(compro|vendo) (ou (vendo|compro) )?(acoes|acao|bitcoin|btc|dolar|[a-z]{4}\d{1,2})\b`)},
	{CategoryAllocation, regexp.MustCompile(`\bcomo (devo |deveria )?(dividir|alocar|distribuir|investir) (o )?(meu|meus|minha|minhas) (dinheiro|patrimonio|carteira|reais|investimentos|economias|salario)\b`)},
	{CategoryPersonalizedInvestment, regexp.MustCompile(`\b(where|what) should i invest\b`)},
	{CategoryBuySell, regexp.MustCompile(`\bshould i (buy|sell)\b`)},
}

// Output patterns need a concrete asset so general guidance such as "você
// deve investir primeiro na reserva de emergência" passes
const assetClass = `(acoes|acao|cotas|bitcoin|btc|ethereum|cripto\w*|fiis?|cdbs?|lcis?|lcas?|tesouro( direto| selic| ipca)?|fundos?( imobiliarios?)?|[a-z]{4}\d{1,2})`

const preposition = `((em|no|na|nos|nas) )?((o|a|os|as) )?`

var answerPatterns = []compliancePattern{
	{CategoryPersonalizedInvestment, regexp.MustCompile(`\b(recomendo|sugiro|aconselho|indico) (que (voce|vc) )?(compre|venda|invista|aplique|comprar|vender|investir|aplicar) ` + preposition + assetClass + `\b`)},
	{CategoryPersonalizedInvestment, regexp.MustCompile(`\b(voce|vc) deve(ria)? (comprar|vender|investir|aplicar) ` + preposition + assetClass + `\b`)},
	{CategoryBuySell, regexp.MustCompile(`\b(compre|venda) (agora |ja )?` + assetClass + `\b`)},
	{CategoryAllocation, regexp.MustCompile(`\b(coloque|aloque|invista) \d{1,3} ?% (do seu|da sua|em)\b`)},
}

// CheckRequest screens a user message before any provider is called
func CheckRequest(message string) ComplianceResult {
	return check(requestPatterns, textutil.Fold(message), false)
}

// CheckAnswer screens provider output. Negated advice such as "não
// recomendo que você compre ações" is let through.
func CheckAnswer(text string) ComplianceResult {
	return check(answerPatterns, textutil.Fold(text), true)
}

func check(patterns []compliancePattern, folded string, skipNegated bool) ComplianceResult {
	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringIndex(folded, -1) {
			if skipNegated && negated(folded, loc[0]) {
				continue
			}
			return ComplianceResult{Violation: true, Category: p.category}
		}
	}
	return ComplianceResult{}
}

var negationPattern = regexp.MustCompile(`\b(nao|nunca|jamais|evite)\b`)

// negated looks back to the start of the clause holding the match
func negated(folded string, start int) bool {
	clause := folded[:start]
	if i := strings.LastIndexAny(clause, ".!?;\n"); i >= 0 {
		clause = clause[i+1:]
	}
	return negationPattern.MatchString(clause)
}

// RefusalMessage is the canned reply for regulated-advice requests
func RefusalMessage(userName string) string {
	opening := "Não posso"
	if name := textutil.FirstName(userName); name != "" {
		opening = fmt.Sprintf("%s, não posso", name)
	}
	return opening + " fazer recomendações personalizadas de investimento. Esse tipo de orientação é regulamentado pela CVM e exige um profissional certificado.\n\n" +
		"O que posso fazer por você:\n" +
		"• Explicar como funcionam Tesouro Direto, CDB, LCI/LCA e fundos\n" +
		"• Mostrar a diferença entre renda fixa e renda variável\n" +
		"• Calcular sua reserva de emergência com base nos seus gastos\n" +
		"• Simular quanto um valor rende com juros compostos\n\n" +
		"Para uma recomendação sob medida, procure um consultor autorizado pela CVM."
}
