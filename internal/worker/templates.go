package worker

// Built-in bodies for SEND_EMAIL steps that name a template instead of
// carrying a body. Placeholders are filled from the user and the step data.
var emailTemplates = map[string]string{
	"renovacao_60_dias": `Olá {user_name},

O contrato corporativo sob sua gestão expira em {prazo}.

Este é o momento ideal para iniciar a conversa de renovação com o cliente e revisar volume de usuários e condições comerciais.

Atenciosamente,
Equipe VIVIO`,

	"renovacao_30_dias": `Olá {user_name},

Faltam {prazo} para o vencimento do contrato corporativo.

Entre em contato com o cliente para alinhar a proposta de renovação e evitar a interrupção dos benefícios dos colaboradores.

Atenciosamente,
Equipe VIVIO`,

	"renovacao_urgente": `Olá {user_name},

URGENTE: o contrato corporativo expira em {prazo}.

Sem a renovação, o acesso dos colaboradores será suspenso na data de término. Priorize o contato com o cliente hoje.

Atenciosamente,
Equipe VIVIO`,
}
