package discretion

import (
	"regexp"

	"github.com/leolimacr/advisor-core/internal/types"
)

// IntentRule pairs a label with its predicate. Predicates receive the
// folded message (lowercase, no accents) and the prior history.
type IntentRule struct {
	Intent Intent
	Match  func(folded string, history []types.ConversationTurn) bool
}

// IntentRules is evaluated top to bottom and the first match wins.
// Specific patterns sit above generic ones so "oi, qual a cotação do
// dólar?" lands on market rather than greeting.
var IntentRules = []IntentRule{
	{IntentIdentity, matches(identityPattern)},
	{IntentDateTime, matches(dateTimePattern)},
	{IntentUserData, matches(userDataPattern)},
	{IntentExplanation, matches(explanationPattern)},
	{IntentMarket, func(folded string, _ []types.ConversationTurn) bool {
		return marketPattern.MatchString(folded) || tickerPattern.MatchString(folded)
	}},
	{IntentInvestmentAdvice, matches(investmentPattern)},
	{IntentGreeting, matches(greetingPattern)},
	{IntentFollowUp, isFollowUp},
	{IntentGeneral, func(string, []types.ConversationTurn) bool { return true }},
}

var (
	identityPattern = regexp.MustCompile(`\b(quem (e|eh|seria) (voce|vc)|qual (e )?(o )?seu nome|como (voce|vc) se chama|(voce|vc) (e|eh) (um|uma) (robo|ia|humano|pessoa|bot|inteligencia artificial)|(voce|vc) (e|eh) humano|o que (e|eh) (voce|vc)|quem te (criou|fez)|who are you|what are you)\b`)

	dateTimePattern = regexp.MustCompile(`\b(que horas (sao|e)|que dia (e|eh) hoje|hoje (e|eh) (que )?dia|qual (e )?a data( de hoje)?|data de hoje|dia de hoje|em que (ano|mes) estamos|que mes (e|estamos)|what time is it|what day is it)\b`)

	userDataPattern = regexp.MustCompile(`\b((meus?|minhas?) (gastos?|despesas?|receitas?|transacoes|lancamentos|metas?|objetivos?|saldo|financas|entradas|saidas|dados|movimentacoes|compras)|quanto (eu )?(gastei|ganhei|recebi|economizei|poupei|guardei|juntei)|(qual|como) (e |esta |anda |ta )?(o )?meu saldo|onde (eu )?(mais )?gast(ei|o)|resum(o|a|ir) (das |dos |as |os )?(minhas?|meus?))\b`)

	explanationPattern = regexp.MustCompile(`\b(o que (e|eh|sao|significa|quer dizer)|como funciona|como funcionam|(me )?expli(ca|que|car)|qual (e )?a diferenca|p(a)?ra que serve|defin(a|e|icao de)|what is|what does)\b`)

	marketPattern = regexp.MustCompile(`\b(cotac(ao|oes)|preco (da|do|de|das|dos) (acao|acoes|dolar|euro|bitcoin|btc|ouro)|quanto (esta|ta|custa|vale) (o|a|um) (dolar|euro|bitcoin|btc|ethereum|acao)|ibovespa|ibov|bolsa (hoje|de valores|subiu|caiu)|dolar hoje|euro hoje|bitcoin|btc|ethereum|selic|cdi|ipca|mercado (hoje|financeiro|de acoes))\b`)

	tickerPattern = regexp.MustCompile(`\b[a-z]{4}(3|4|5|6|11|34)\b`)

	investmentPattern = regexp.MustCompile(`\b(investir|invisto|investimentos?|aplicar|aplicacao|renda fixa|renda variavel|tesouro( direto)?|cdb|lci|lca|fundos?( imobiliarios?| de investimento)?|fiis?|acoes|previdencia|poupanca|rentabilidade|rendimento|vale a pena)\b`)

	greetingPattern = regexp.MustCompile(`^(oi+|ola|e ai|eai|eae|bom dia|boa tarde|boa noite|hey|hello|hi|opa|salve|fala( ai)?)\b`)

	greetingOnlyPattern = regexp.MustCompile(`^(oi+|ola|e ai|eai|eae|bom dia|boa tarde|boa noite|hey|hello|hi|opa|salve|fala( ai)?)([\s,!.]+(tudo (bem|bom|certo)|td bem|como vai( voce)?|beleza|blz))?[\s!.,?]*$`)

	followUpPattern = regexp.MustCompile(`^(e|mas|entao|tambem|e se|como assim|por que|porque|pq|ok|certo|entendi|beleza|blz|valeu|obrigad[oa]|sim|nao|isso|mais|continua|continue|pode continuar|detalha|e quanto)\b`)
)

// followUpMaxLen marks short messages that only make sense against history
const followUpMaxLen = 25

func matches(re *regexp.Regexp) func(string, []types.ConversationTurn) bool {
	return func(folded string, _ []types.ConversationTurn) bool {
		return re.MatchString(folded)
	}
}

func isFollowUp(folded string, history []types.ConversationTurn) bool {
	if !hasAssistantTurn(history) {
		return false
	}
	return followUpPattern.MatchString(folded) || len([]rune(folded)) < followUpMaxLen
}

// classify walks IntentRules in order
func classify(folded string, history []types.ConversationTurn) Intent {
	for _, rule := range IntentRules {
		if rule.Match(folded, history) {
			return rule.Intent
		}
	}
	return IntentGeneral
}

// IsGreetingOnly reports whether the message is nothing but a salutation,
// optionally with a "tudo bem?". Greetings followed by a question are not.
func IsGreetingOnly(folded string) bool {
	return greetingOnlyPattern.MatchString(folded)
}

func hasAssistantTurn(history []types.ConversationTurn) bool {
	for _, turn := range history {
		if turn.Role == types.RoleAssistant {
			return true
		}
	}
	return false
}
