package enum

type ImapSecurity string

const (
	ImapSecurityTLS      ImapSecurity = "tls"
	ImapSecurityStartTLS ImapSecurity = "starttls"
	ImapSecurityNone     ImapSecurity = "none"
)
