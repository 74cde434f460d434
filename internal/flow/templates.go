// Package flow implements the dialogue state machine driving a call turn.
//
// This file holds the outgoing message templates and French date formatting.
package flow

import (
	"fmt"
	"strings"
	"time"

	"github.com/accueilvox/standardiste/internal/models"
)

var frenchDays = [...]string{"dimanche", "lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi"}

var frenchMonths = [...]string{"janvier", "février", "mars", "avril", "mai", "juin",
	"juillet", "août", "septembre", "octobre", "novembre", "décembre"}

// formatSlotFr renders a slot start as spoken French, e.g.
// "mardi 3 mars à 9h30".
func formatSlotFr(t time.Time) string {
	hour := fmt.Sprintf("%dh", t.Hour())
	if t.Minute() != 0 {
		hour += fmt.Sprintf("%02d", t.Minute())
	}
	return fmt.Sprintf("%s %d %s à %s", frenchDays[t.Weekday()], t.Day(), frenchMonths[t.Month()-1], hour)
}

// formatSlotList renders the proposed slots as a numbered spoken list.
func formatSlotList(slots []models.SlotDescriptor) string {
	var sb strings.Builder
	for i, s := range slots {
		if i > 0 {
			sb.WriteString(" ; ")
		}
		fmt.Fprintf(&sb, "%d. %s", i+1, formatSlotFr(s.Start))
	}
	return sb.String()
}

// Opening and routing messages.
const (
	msgGreeting     = "Bonjour, vous êtes bien au secrétariat du cabinet. Que puis-je faire pour vous ?"
	msgIntentMenu   = "Je peux vous aider à prendre rendez-vous, annuler ou déplacer un rendez-vous, ou répondre à une question. Dites par exemple « rendez-vous », « annuler » ou « une question ». Pour parler à quelqu'un, dites « secrétaire »."
	msgClarify      = "Je ne suis pas sûre d'avoir compris. Souhaitez-vous prendre rendez-vous ou poser une question ?"
	msgConcluded    = "Cet appel est déjà terminé. Merci de rappeler si besoin, bonne journée."
	msgTransfer     = "Je vous mets en relation avec le secrétariat, un instant s'il vous plaît."
	msgGoodbye      = "Très bien, je ne vous retiens pas. Bonne journée !"
	msgTechApology  = "Je suis désolée, un problème technique est survenu de notre côté. Voulez-vous que je réessaie, ou préférez-vous que je vous passe le secrétariat ?"
	msgTechTransfer = "Je suis désolée, le problème technique persiste. Je vous passe le secrétariat."
)

// Qualification messages.
const (
	msgAskName        = "Avec plaisir. Pouvez-vous me donner votre nom, s'il vous plaît ?"
	msgAskNameAgain   = "Pardon, je n'ai pas bien saisi votre nom. Pouvez-vous le répéter ?"
	msgAskNameExample = "Je n'ai toujours pas votre nom. Dites-le simplement, par exemple « Marie Dupont »."
	msgAskMotif       = "Merci. Quel est le motif de votre rendez-vous ?"
	msgAskPref        = "Préférez-vous un rendez-vous le matin ou l'après-midi ?"
	msgAskPrefAgain   = "Pardon, je n'ai pas compris. Plutôt le matin ou plutôt l'après-midi ?"
	msgAskPrefExample = "Dites simplement « matin », « après-midi », ou « peu importe »."
	msgAskPhone       = "Quel est votre numéro de téléphone pour la confirmation ?"
	msgAskPhoneAgain  = "Je n'ai pas bien saisi le numéro. Pouvez-vous le redonner chiffre par chiffre ?"
	msgAskPhoneExample = "Donnez votre numéro à dix chiffres, par exemple « 06 12 34 56 78 »."
	msgConfirmRetry   = "Juste pour confirmer : oui ou non ?"
)

// Silence recovery messages.
const (
	msgSilenceFirst  = "Je ne vous ai pas entendu. Pouvez-vous répéter ?"
	msgSilenceSecond = "Je ne vous entends toujours pas. Si vous êtes là, dites par exemple « rendez-vous » ou « une question »."
)

// Sub-flow messages.
const (
	msgCancelAskName    = "Bien sûr. À quel nom est le rendez-vous à annuler ?"
	msgModifyAskName    = "Bien sûr. À quel nom est le rendez-vous à déplacer ?"
	msgCancelDone       = "C'est noté, le rendez-vous est annulé. Puis-je faire autre chose pour vous ?"
	msgCancelAborted    = "Très bien, je n'annule rien. Que puis-je faire pour vous ?"
	msgOrdonnanceChoice = "Pour un renouvellement d'ordonnance, souhaitez-vous laisser un message pour le médecin, ou être rappelé ?"
	msgOrdonnanceAskMsg = "Je vous écoute, quel message souhaitez-vous laisser ?"
	msgOrdonnanceNoted  = "C'est noté, je transmets votre message au cabinet. Bonne journée."
	msgCallbackNoted    = "C'est noté, le cabinet vous rappellera à ce numéro. Bonne journée."
	msgNoSlots          = "Je suis désolée, je ne trouve aucune disponibilité sur cette période. Je vous passe le secrétariat pour trouver une solution."
)

func msgConfirmCancel(name string) string {
	return fmt.Sprintf("Vous souhaitez annuler le rendez-vous au nom de %s, c'est bien ça ? Répondez par oui ou par non.", name)
}

func msgConfirmModify(name string) string {
	return fmt.Sprintf("Vous souhaitez déplacer le rendez-vous au nom de %s, c'est bien ça ? Répondez par oui ou par non.", name)
}

func msgProposeSlots(slots []models.SlotDescriptor) string {
	return fmt.Sprintf("Voici ce que je peux vous proposer : %s. Lequel vous convient ? Dites par exemple « le premier ».", formatSlotList(slots))
}

func msgProposeAlternatives(slots []models.SlotDescriptor) string {
	return fmt.Sprintf("Ce créneau vient malheureusement d'être pris. Je peux vous proposer à la place : %s. Lequel vous convient ?", formatSlotList(slots))
}

func msgSlotChoiceAgain(count int) string {
	return fmt.Sprintf("Pardon, je n'ai pas compris votre choix. Dites un numéro entre 1 et %d, par exemple « le premier ».", count)
}

func msgContactReadback(sess *models.Session) string {
	return fmt.Sprintf("Je récapitule : %s, pour %s, au %s. C'est bien ça ? Répondez par oui ou par non.",
		formatSlotFr(sess.PendingSlot.Start), sess.CallerName, sess.ContactValue)
}

func msgBookingConfirmed(sess *models.Session) string {
	return fmt.Sprintf("Parfait, votre rendez-vous est confirmé pour %s. Vous recevrez une confirmation au %s. Bonne journée !",
		formatSlotFr(sess.PendingSlot.Start), sess.ContactValue)
}

func msgFAQAnswer(answer string) string {
	return answer
}

func msgFAQAnswerThenResume(answer, resumePrompt string) string {
	return answer + " " + resumePrompt
}
