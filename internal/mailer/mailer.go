// Package mailer sends the plain text lifecycle emails of a license: welcome,
// update and goodbye.
package mailer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	senderName          = "Yash @ Olly AI"
	chromeExtensionLink = "https://chromewebstore.google.com/detail/olly-ai-assistant-for-soc/ofjpapfmglfjdhmadpegoeifocomaeje"
	discordInvite       = "https://discord.gg/Phg8nwJEek"
)

type message struct {
	From     string `json:"from"`
	FromName string `json:"from_name"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Text     string `json:"text"`
}

// Mailer posts messages to an HTTP mail API authenticated with a bearer key.
type Mailer struct {
	http *resty.Client
	from string
}

func New(apiURL, apiKey, from string, timeout time.Duration) *Mailer {
	return &Mailer{
		http: resty.New().
			SetBaseURL(strings.TrimRight(apiURL, "/")).
			SetTimeout(timeout).
			SetAuthToken(apiKey),
		from: from,
	}
}

func (m *Mailer) send(ctx context.Context, to, subject, text string) error {
	response, err := m.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(message{From: m.from, FromName: senderName, To: to, Subject: subject, Text: text}).
		Post("/send")
	if err != nil {
		return err
	}
	if response.IsError() {
		return fmt.Errorf("mail api failed with status %d: %s", response.StatusCode(), response.String())
	}

	return nil
}

func (m *Mailer) SendWelcome(ctx context.Context, firstName, email, licenseKey string) error {
	return m.send(ctx, email, fmt.Sprintf("Welcome to Olly, %s!", firstName), welcomeText(firstName, licenseKey))
}

func (m *Mailer) SendLicenseUpdate(ctx context.Context, firstName, email, licenseKey, status string) error {
	return m.send(
		ctx,
		email,
		fmt.Sprintf("Your Olly AI License Key Has Been Updated, %s!", firstName),
		licenseUpdateText(firstName, licenseKey, status),
	)
}

func (m *Mailer) SendGoodbye(ctx context.Context, firstName, email string) error {
	return m.send(ctx, email, fmt.Sprintf("Sorry to see you go, %s", firstName), goodbyeText(firstName))
}

func welcomeText(firstName, licenseKey string) string {
	return fmt.Sprintf(`Hi %s,

Welcome to Olly AI! I'm Yash, the creator, and I'm excited to have you join us.

Here's your quick-start guide:

1. Add Olly to Chrome: %s
   This is your first step to social media success!

2. Your Activation Key: %s
   Keep this handy - you'll need it to activate Olly's Premium features.

3. 3-Minute Setup Guide: https://youtu.be/878N5HT68g0
   Get up and running in no time!

4. Account Activation:
   - Go to https://www.olly.social/set-password
   - Enter your email and details
   - You'll receive a password reset email
   - Follow the steps to activate your account and access advanced analytics

For support and updates, join our Discord: %s

Let's make your social media shine!

Best,
Yash`, firstName, chromeExtensionLink, licenseKey, discordInvite)
}

func licenseUpdateText(firstName, licenseKey, status string) string {
	nextSteps := "If your license is inactive and you believe this is an error, please contact our support team."
	if status == "ACTIVE" {
		nextSteps = "Your license is active. You can continue using Olly AI with all premium features."
	}

	return fmt.Sprintf(`Hi %s,

We wanted to let you know that your Olly AI license key has been updated.

Here's what you need to know:

1. Your License Key: %s
   This is your updated license key. Please use this for any future activations.

2. Current Status: %s
   Your license key is currently %s.

3. Next Steps:
   %s

4. Reminder: Add Olly to Chrome: %s
   If you haven't already, make sure to add Olly to your Chrome browser for the best experience.

Need Help? Our Discord community is here for support: %s

Thank you for being a valued Olly AI user!

Best regards,
Yash
Founder, Olly AI`, firstName, licenseKey, status, strings.ToLower(status), nextSteps, chromeExtensionLink, discordInvite)
}

func goodbyeText(firstName string) string {
	return fmt.Sprintf(`Hi %s,

I noticed you've stopped using Olly and wanted to reach out personally.

If something didn't work the way you expected, I'd genuinely love to hear about it. Just reply to this email, I read every response.

Your feedback helps us make Olly better for everyone. And if you ever want to come back, our Discord is always open: %s

Best,
Yash`, firstName, discordInvite)
}
