package database

// Submission queries
const (
	InsertSubmissionQuery = `
		INSERT INTO submissions (
			id, tenant_id, landing_page_id, form_id, fields, metadata,
			client_ip_hash, processed, dispatch_attempts, last_error_code, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, '', ?)
	`

	SelectSubmissionQuery = `
		SELECT id, tenant_id, landing_page_id, form_id, fields, metadata,
		       processed, dispatch_attempts, last_error_code, created_at
		FROM submissions
		WHERE id = ?
	`

	CountSubmissionsByLandingPageQuery = `
		SELECT COUNT(*) FROM submissions WHERE landing_page_id = ?
	`

	CountSubmissionsByIPSinceQuery = `
		SELECT COUNT(*) FROM submissions WHERE client_ip_hash = ? AND created_at >= ?
	`

	MarkSubmissionProcessedQuery = `
		UPDATE submissions SET processed = 1 WHERE id = ? AND processed = 0
	`

	RecordDispatchFailureQuery = `
		UPDATE submissions
		SET dispatch_attempts = dispatch_attempts + 1, last_error_code = ?
		WHERE id = ? AND processed = 0
	`

	SelectReplayableSubmissionsQuery = `
		SELECT id, tenant_id, landing_page_id, form_id, fields, metadata,
		       processed, dispatch_attempts, last_error_code, created_at
		FROM submissions
		WHERE processed = 0
		  AND created_at <= ?
		  AND dispatch_attempts < ?
		  AND (dispatch_attempts = 0 OR last_error_code IN (?))
		ORDER BY created_at ASC
		LIMIT ?
	`
)

// Landing page and connection queries
const (
	InsertLandingPageQuery = `
		INSERT INTO landing_pages (tenant_id, title, slug, submission_limit, dispatch_config)
		VALUES (?, ?, ?, ?, ?)
	`

	SelectLandingPageQuery = `
		SELECT id, tenant_id, title, slug, submission_limit, dispatch_config
		FROM landing_pages
		WHERE id = ?
	`

	InsertConnectionQuery = `
		INSERT INTO connections (tenant_id, name, session_name, status, is_default)
		VALUES (?, ?, ?, ?, ?)
	`

	SelectConnectionQuery = `
		SELECT id, tenant_id, name, session_name, status, is_default
		FROM connections
		WHERE id = ?
	`

	SelectConnectionsByTenantQuery = `
		SELECT id, tenant_id, name, session_name, status, is_default
		FROM connections
		WHERE tenant_id = ?
		ORDER BY is_default DESC, id ASC
	`

	SelectAllConnectionsQuery = `
		SELECT id, tenant_id, name, session_name, status, is_default
		FROM connections
		ORDER BY id ASC
	`

	UpdateConnectionStatusQuery = `
		UPDATE connections SET status = ? WHERE id = ?
	`
)

// Contact queries
const (
	UpsertContactQuery = `
		INSERT INTO contacts (
			id, tenant_id, canonical_number, name, email, profile_pic_url,
			connection_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, '', ?, ?, ?)
		ON CONFLICT(tenant_id, canonical_number) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE contacts.name END,
			email = CASE WHEN excluded.email != '' THEN excluded.email ELSE contacts.email END,
			connection_id = CASE WHEN excluded.connection_id > 0 THEN excluded.connection_id ELSE contacts.connection_id END,
			updated_at = excluded.updated_at
	`

	SelectContactByNumberQuery = `
		SELECT id, tenant_id, canonical_number, name, email, profile_pic_url,
		       connection_id, created_at, updated_at
		FROM contacts
		WHERE tenant_id = ? AND canonical_number = ?
	`

	UpsertContactExtraFieldQuery = `
		INSERT INTO contact_extra_fields (contact_id, name, value)
		VALUES (?, ?, ?)
		ON CONFLICT(contact_id, name) DO UPDATE SET value = excluded.value
		WHERE excluded.value != ''
	`

	SelectContactExtraFieldsQuery = `
		SELECT name, value FROM contact_extra_fields WHERE contact_id = ? ORDER BY name
	`

	UpdateContactProfilePictureQuery = `
		UPDATE contacts SET profile_pic_url = ?, updated_at = ? WHERE id = ?
	`
)

// Ticket and message queries
const (
	SelectRecentTicketQuery = `
		SELECT id, tenant_id, contact_id, connection_id, status, created_at
		FROM tickets
		WHERE tenant_id = ? AND contact_id = ? AND connection_id = ? AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	SelectTicketsByContactQuery = `
		SELECT id, tenant_id, contact_id, connection_id, status, created_at
		FROM tickets
		WHERE tenant_id = ? AND contact_id = ?
		ORDER BY created_at ASC
	`

	InsertTicketQuery = `
		INSERT INTO tickets (id, tenant_id, contact_id, connection_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	InsertTicketTrackingQuery = `
		INSERT INTO ticket_trackings (id, ticket_id, tenant_id, connection_id, queued_at)
		VALUES (?, ?, ?, ?, ?)
	`

	InsertMessageQuery = `
		INSERT INTO messages (
			id, ticket_id, contact_id, from_me, body, media_kind, media_ref,
			gateway_message_id, status, created_at
		) VALUES (:id, :ticket_id, :contact_id, :from_me, :body, :media_kind, :media_ref,
			:gateway_message_id, :status, :created_at)
	`

	SelectMessagesByTicketQuery = `
		SELECT id, ticket_id, contact_id, from_me, body, media_kind, media_ref,
		       gateway_message_id, status, created_at
		FROM messages
		WHERE ticket_id = ?
		ORDER BY created_at ASC, rowid ASC
	`
)

// Tag and group queries
const (
	InsertTagQuery = `
		INSERT INTO tags (tenant_id, name) VALUES (?, ?)
	`

	AttachTagQuery = `
		INSERT OR IGNORE INTO contact_tags (contact_id, tag_id, tenant_id)
		SELECT ?, id, tenant_id FROM tags WHERE id = ? AND tenant_id = ?
	`

	InsertGroupSeriesQuery = `
		INSERT INTO group_series (tenant_id, name) VALUES (?, ?)
	`

	InsertGroupQuery = `
		INSERT INTO whatsapp_groups (
			tenant_id, connection_id, gateway_group_id, subject, participant_count,
			series_id, series_position, capacity
		) VALUES (:tenant_id, :connection_id, :gateway_group_id, :subject, :participant_count,
			:series_id, :series_position, :capacity)
	`

	SelectGroupQuery = `
		SELECT id, tenant_id, connection_id, gateway_group_id, subject, participant_count,
		       series_id, series_position, capacity
		FROM whatsapp_groups
		WHERE id = ? AND tenant_id = ? AND connection_id = ?
	`

	SelectSeriesGroupsQuery = `
		SELECT g.id, g.tenant_id, g.connection_id, g.gateway_group_id, g.subject,
		       g.participant_count, g.series_id, g.series_position, g.capacity
		FROM whatsapp_groups g
		JOIN group_series s ON s.id = g.series_id
		WHERE s.id = ? AND s.tenant_id = ? AND g.connection_id = ?
		ORDER BY g.series_position ASC, g.id ASC
	`

	UpdateGroupParticipantCountQuery = `
		UPDATE whatsapp_groups SET participant_count = ? WHERE id = ?
	`
)
