// Package identity содержит доменную модель канонической личности.
//
// Один человек может быть зарегистрирован в нескольких независимых
// организациях, и у каждой есть свой локальный профиль (RawProfile).
// Пакет определяет:
//
//   - Сущности: CanonicalIdentity, IdentityLink, MergeAudit
//   - Normalizer: канонизация и хэширование телефона и email
//   - Интерфейсы репозиториев: Repository, LinkRepository, MergeAuditRepository
//
// # Приватность
//
// Сырые телефон и email никогда не сохраняются. Наружу из Normalizer
// выходят только ключевые хэши BLAKE2b-256 (64 hex-символа).
//
// # Жизненный цикл
//
//	active ──merge──▶ merged ──unmerge──▶ active
//	active ──archive──▶ archived
//
// Личность никогда не удаляется физически: поиск по хэшу объединённой
// личности переходит по MergedInto к выжившей.
package identity
