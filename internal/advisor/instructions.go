package advisor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/leolimacr/advisor-core/internal/discretion"
	"github.com/leolimacr/advisor-core/internal/market"
	"github.com/leolimacr/advisor-core/internal/textutil"
	"github.com/leolimacr/advisor-core/internal/userdata"
)

// maxListedTransactions bounds the ledger lines placed in instructions
const maxListedTransactions = 15

var weekdays = [...]string{"domingo", "segunda-feira", "terça-feira", "quarta-feira", "quinta-feira", "sexta-feira", "sábado"}

var months = [...]string{"janeiro", "fevereiro", "março", "abril", "maio", "junho", "julho", "agosto", "setembro", "outubro", "novembro", "dezembro"}

// InstructionInput is everything the system prompt is assembled from
type InstructionInput struct {
	AssistantName string
	UserName      string
	Now           time.Time
	FirstTurn     bool
	Decision      discretion.Decision
	Snapshot      userdata.Snapshot
	Quotes        []market.Quote
	SearchEnabled bool
}

// FormatDateTime renders t in Portuguese, e.g.
// "domingo, 10 de maio de 2026, 14:00"
func FormatDateTime(t time.Time) string {
	return fmt.Sprintf("%s, %d de %s de %d, %02d:%02d",
		weekdays[t.Weekday()], t.Day(), months[t.Month()-1], t.Year(), t.Hour(), t.Minute())
}

// BuildInstructions assembles the system prompt. Data sections appear only
// when the policy asks for them.
func BuildInstructions(in InstructionInput) string {
	p := in.Decision.Policy
	var b strings.Builder

	fmt.Fprintf(&b, "Você é %s, o assistente financeiro pessoal do usuário. Responda sempre em português do Brasil.\n", in.AssistantName)
	if name := textutil.FirstName(in.UserName); name != "" {
		fmt.Fprintf(&b, "O nome do usuário é %s.\n", name)
	}
	fmt.Fprintf(&b, "Data e hora atual: %s (horário de Brasília).\n", FormatDateTime(in.Now))

	b.WriteString("\nRegras obrigatórias:\n")
	b.WriteString("- Nunca recomende a compra ou a venda de ativos específicos nem diga onde o usuário deve investir. Explique conceitos e opções de forma educativa.\n")
	b.WriteString("- Não invente números. Use apenas os dados fornecidos abaixo.\n")

	b.WriteString("\nEstilo da resposta:\n")
	fmt.Fprintf(&b, "- Use no máximo %d frases.\n", p.Depth.MaxSentences())
	if p.UseBullets {
		b.WriteString("- Use tópicos quando houver mais de dois itens.\n")
	} else {
		b.WriteString("- Escreva em parágrafos curtos, sem listas.\n")
	}
	switch p.Formality {
	case discretion.FormalityFormal:
		b.WriteString("- Use um tom formal e respeitoso.\n")
	case discretion.FormalityCasual:
		b.WriteString("- Use um tom leve e descontraído.\n")
	default:
		b.WriteString("- Use um tom cordial e direto.\n")
	}
	if p.EscalatePoliteness {
		b.WriteString("- Seja especialmente paciente e gentil.\n")
	}
	if p.ClosingQuestion {
		b.WriteString("- Termine com uma pergunta curta que ajude o usuário a continuar.\n")
	} else {
		b.WriteString("- Não termine com pergunta.\n")
	}
	if !in.FirstTurn {
		b.WriteString("- A conversa já está em andamento: não cumprimente o usuário de novo, vá direto ao ponto.\n")
	}

	if p.IncludeMarket && len(in.Quotes) > 0 {
		b.WriteString("\n")
		b.WriteString(market.FormatSnippet(in.Quotes))
		b.WriteString("\n")
	}

	writeDataSections(&b, in)

	if in.SearchEnabled {
		b.WriteString("\nSe precisar de informações atuais que não estão aqui, como notícias ou taxas do dia, responda somente com [PESQUISAR: termo de busca] e nada mais.\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func writeDataSections(b *strings.Builder, in InstructionInput) {
	d, snap := in.Decision, in.Snapshot
	wantsData := d.WantsTransactions || d.WantsGoals

	if wantsData && snap.Status == userdata.StatusError {
		b.WriteString("\nOs dados financeiros do usuário não puderam ser carregados agora. Se forem necessários, diga isso com naturalidade e sugira tentar mais tarde.\n")
		return
	}

	if d.Policy.IncludeTransactions {
		writeTransactions(b, snap)
	} else if d.WantsTransactions && !snap.Transactions.HasData {
		b.WriteString("\nO usuário ainda não tem transações registradas no período.\n")
	}

	if d.Policy.IncludeGoals {
		writeGoals(b, snap.Goals.Items)
	} else if d.WantsGoals && !snap.Goals.HasData && d.Intent == discretion.IntentUserData {
		b.WriteString("\nO usuário ainda não cadastrou metas.\n")
	}
}

func writeTransactions(b *strings.Builder, snap userdata.Snapshot) {
	period := "todo o histórico"
	if snap.LookbackDays != userdata.Unbounded {
		period = fmt.Sprintf("últimos %d dias", snap.LookbackDays)
	}
	income, expenses := snap.Totals()

	fmt.Fprintf(b, "\nTransações do usuário (%s):\n", period)
	fmt.Fprintf(b, "- Receitas: %s\n- Despesas: %s\n- Saldo: %s\n",
		market.FormatBRL(income), market.FormatBRL(expenses), market.FormatBRL(income.Sub(expenses)))

	if top := topCategories(snap.Transactions.Items, 3); len(top) > 0 {
		fmt.Fprintf(b, "- Maiores categorias de gasto: %s\n", strings.Join(top, ", "))
	}

	items := snap.Transactions.Items
	if len(items) > maxListedTransactions {
		items = items[:maxListedTransactions]
	}
	b.WriteString("Mais recentes:\n")
	for _, tx := range items {
		fmt.Fprintf(b, "- %s: %s (%s) %s\n", tx.Date.Format("02/01"), tx.Description, tx.Category, market.FormatBRL(tx.Amount))
	}
}

func topCategories(txs []userdata.Transaction, n int) []string {
	totals := make(map[string]int64)
	for _, tx := range txs {
		if tx.Type == userdata.Expense && tx.Category != "" {
			totals[tx.Category] += tx.Amount.Abs().Shift(2).IntPart()
		}
	}
	cats := make([]string, 0, len(totals))
	for c := range totals {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool {
		if totals[cats[i]] != totals[cats[j]] {
			return totals[cats[i]] > totals[cats[j]]
		}
		return cats[i] < cats[j]
	})
	if len(cats) > n {
		cats = cats[:n]
	}
	return cats
}

func writeGoals(b *strings.Builder, goals []userdata.Goal) {
	b.WriteString("\nMetas do usuário:\n")
	for _, g := range goals {
		fmt.Fprintf(b, "- %s: %s de %s (%s%%)", g.Name,
			market.FormatBRL(g.CurrentAmount), market.FormatBRL(g.TargetAmount),
			strings.Replace(g.Progress().StringFixed(1), ".", ",", 1))
		if g.Deadline != nil {
			fmt.Fprintf(b, ", prazo %s", g.Deadline.Format("01/2006"))
		}
		b.WriteString("\n")
	}
}
