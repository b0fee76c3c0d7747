// Package seed installs the stock automation journeys.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/metavida/wellness-automation/internal/domain"
	"github.com/metavida/wellness-automation/internal/store"
)

type stepDef struct {
	name   string
	action domain.ActionType
	config map[string]any
}

type journeyDef struct {
	name        string
	description string
	trigger     string
	steps       []stepDef
}

const (
	welcomeBody = `Olá {usuario_nome},

Seja muito bem-vindo(a) à nossa academia! Seu cadastro foi realizado com sucesso e você já pode aproveitar todos os nossos serviços.

Atenciosamente,
Equipe VIVIO`

	reengagementBody = `Olá {usuario_nome},

Percebemos que você não tem vindo à academia e queremos te ajudar a retomar sua rotina de treinos.

Preparamos 3 aulas grátis com personal trainer e uma avaliação física completa sem custo.

Atenciosamente,
Equipe VIVIO`
)

var journeys = []journeyDef{
	{
		name:        "Onboarding Aluno Novo",
		description: "Jornada automática de boas-vindas e integração para novos alunos",
		trigger:     domain.EventUserCreated,
		steps: []stepDef{
			{
				name:   "Enviar Email de Boas-Vindas",
				action: domain.ActionSendEmail,
				config: map[string]any{
					"assunto": "Bem-vindo ao VIVIO CRM!",
					"corpo":   welcomeBody,
				},
			},
			{
				name:   "Criar Tarefa de Acompanhamento",
				action: domain.ActionCreateTask,
				config: map[string]any{
					"titulo":    "Fazer contato com novo aluno",
					"descricao": "Verificar se o aluno teve uma boa primeira experiência e oferecer ajuda para montar o treino inicial.",
				},
			},
		},
	},
	{
		name:        "Retenção - Alto Risco de Churn",
		description: "Jornada automática para engajar usuários com alto risco de abandono",
		trigger:     domain.EventChurnAlert,
		steps: []stepDef{
			{
				name:   "Adicionar ao Grupo Alto Risco",
				action: domain.ActionCreateGroup,
				config: map[string]any{
					"nome_grupo": "Alto Risco de Churn (IA)",
					"descricao":  "Usuários identificados pela IA com alta probabilidade de cancelamento",
					"cor":        "#e74c3c",
				},
			},
			{
				name:   "Enviar Email de Reengajamento",
				action: domain.ActionSendEmail,
				config: map[string]any{
					"assunto": "Sentimos sua falta! Oferta especial para você",
					"corpo":   reengagementBody,
				},
			},
			{
				name:   "Criar Tarefa para Contato do Gerente",
				action: domain.ActionCreateTask,
				config: map[string]any{
					"titulo":     "Ligar para aluno em risco de churn",
					"descricao":  "Entender os motivos da ausência e oferecer soluções personalizadas.",
					"prioridade": "alta",
				},
			},
		},
	},
	{
		name:        "Renovação de Contrato Corporativo",
		description: "Jornada automatizada para renovação de contratos B2B antes do vencimento",
		trigger:     domain.EventContractExpiring,
		steps: []stepDef{
			{
				name:   "Alerta 60 dias - Email para Gerente de Conta",
				action: domain.ActionSendEmail,
				config: map[string]any{
					"assunto":  "Alerta: Contrato corporativo expira em 60 dias",
					"template": "renovacao_60_dias",
					"dados":    map[string]string{"prazo": "60 dias"},
				},
			},
			{
				name:   "Alerta 30 dias - Email para Cliente",
				action: domain.ActionSendEmail,
				config: map[string]any{
					"assunto":  "Renovação de Contrato - 30 dias",
					"template": "renovacao_30_dias",
					"dados":    map[string]string{"prazo": "30 dias", "urgencia": "media"},
				},
			},
			{
				name:   "Criar Tarefa para Equipe Comercial",
				action: domain.ActionCreateTask,
				config: map[string]any{
					"titulo":     "Contato urgente - Renovação de contrato",
					"descricao":  "Contrato expira em breve. Entrar em contato imediato.",
					"prioridade": "alta",
				},
			},
			{
				name:   "Alerta 15 dias - Notificação Crítica",
				action: domain.ActionSendEmail,
				config: map[string]any{
					"assunto":  "URGENTE: Contrato expira em 15 dias",
					"template": "renovacao_urgente",
					"dados":    map[string]string{"prazo": "15 dias", "urgencia": "critica"},
				},
			},
		},
	},
}

// Options scope the seeded journeys. A nil TenantID makes them global.
type Options struct {
	TenantID *int64
	OwnerID  int64
}

type Result struct {
	Created  []string `json:"created"`
	Existing []string `json:"existing"`
}

// Run creates every stock journey that does not exist yet, matched by name.
// Each journey is written with its steps in one transaction.
func Run(ctx context.Context, st store.Store, opts Options, logger *slog.Logger) (Result, error) {
	logger = logger.With("component", "seed")
	res := Result{Created: []string{}, Existing: []string{}}

	for _, def := range journeys {
		created := false
		err := st.WithinTx(ctx, func(repo store.Repository) error {
			existing, err := repo.GetJourneyByName(ctx, def.name)
			if err != nil {
				return err
			}
			if existing != nil {
				return nil
			}

			j, err := repo.CreateJourney(ctx, domain.Journey{
				Name:             def.name,
				Description:      def.description,
				TriggerEventType: def.trigger,
				Active:           true,
				TenantID:         opts.TenantID,
				OwnerID:          opts.OwnerID,
			})
			if err != nil {
				return err
			}

			for i, s := range def.steps {
				cfg, err := json.Marshal(s.config)
				if err != nil {
					return fmt.Errorf("encoding step %q: %w", s.name, err)
				}
				if _, err := repo.CreateStep(ctx, domain.Step{
					JourneyID:    j.ID,
					Name:         s.name,
					Order:        i + 1,
					ActionType:   s.action,
					ActionConfig: cfg,
				}); err != nil {
					return fmt.Errorf("creating step %q: %w", s.name, err)
				}
			}
			created = true
			return nil
		})
		if err != nil {
			return res, fmt.Errorf("seeding journey %q: %w", def.name, err)
		}

		if created {
			res.Created = append(res.Created, def.name)
			logger.Info("journey seeded", "name", def.name, "steps", len(def.steps))
		} else {
			res.Existing = append(res.Existing, def.name)
			logger.Debug("journey already present", "name", def.name)
		}
	}

	return res, nil
}
